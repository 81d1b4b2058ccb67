package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	menuCategoryService = "/menu_category.v1.MenuCategoryService/"
	menuItemService     = "/menu_item.v1.MenuItemService/"
)

// MenuClient calls the menu service. Menu documents are returned verbatim.
type MenuClient struct {
	cc grpc.ClientConnInterface
}

// NewMenuClient creates a MenuClient on cc.
func NewMenuClient(cc grpc.ClientConnInterface) *MenuClient {
	return &MenuClient{cc: cc}
}

func (c *MenuClient) GetFullMenuByLanguage(ctx context.Context, language string) (Document, error) {
	return document(invoke[Document](ctx, c.cc, menuCategoryService+"GetFullMenuByLanguage", LanguageRequest{Language: language}))
}

func (c *MenuClient) GetMenuCategoriesByLanguage(ctx context.Context, language string) (Document, error) {
	return document(invoke[Document](ctx, c.cc, menuCategoryService+"GetMenuCategoriesByLanguage", LanguageRequest{Language: language}))
}

func (c *MenuClient) GetMenuCategoryByID(ctx context.Context, id string) (Document, error) {
	return document(invoke[Document](ctx, c.cc, menuCategoryService+"GetMenuCategoryById", IDRequest{ID: id}))
}

func (c *MenuClient) GetMenuItemsByCategoryID(ctx context.Context, categoryID string) (Document, error) {
	return document(invoke[Document](ctx, c.cc, menuItemService+"GetMenuItemsByCategoryId", CategoryRequest{CategoryID: categoryID}))
}

func (c *MenuClient) GetMenuItemByID(ctx context.Context, id string) (Document, error) {
	return document(invoke[Document](ctx, c.cc, menuItemService+"GetMenuItemById", IDRequest{ID: id}))
}

func document(d *Document, err error) (Document, error) {
	if err != nil {
		return nil, err
	}
	return *d, nil
}
