// Package menu serves the public full-menu route and the staff menu
// category and item routes.
package menu

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/auth"
	"github.com/dskow/api-gateway/internal/cache"
	"github.com/dskow/api-gateway/internal/httpx"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DefaultLanguage is used by /full-menu when no language is given.
const DefaultLanguage = "EN"

// Languages lists the accepted menu languages.
var Languages = []string{"EN", "UK", "RU"}

var (
	errLanguage       = apierror.BadRequest("Invalid language. Allowed: " + strings.Join(Languages, ", "))
	errCategoryID     = apierror.BadRequest("Invalid UUID format for categoryId")
	errMenuItemID     = apierror.BadRequest("Invalid UUID format for menu item ID")
	errMissingCatalog = apierror.ServiceUnavailable("Menu is unavailable")
)

// Service is the menu backend.
type Service interface {
	GetFullMenuByLanguage(ctx context.Context, language string) (rpc.Document, error)
	GetMenuCategoriesByLanguage(ctx context.Context, language string) (rpc.Document, error)
	GetMenuCategoryByID(ctx context.Context, id string) (rpc.Document, error)
	GetMenuItemsByCategoryID(ctx context.Context, categoryID string) (rpc.Document, error)
	GetMenuItemByID(ctx context.Context, id string) (rpc.Document, error)
}

// Handler serves /full-menu, /menu-category and /menu-item.
type Handler struct {
	svc      Service
	cache    cache.Cache
	ttl      time.Duration
	guard    *auth.Guard
	boundary *apierror.Boundary
	logger   *slog.Logger
}

// NewHandler returns a Handler that caches full menus in c for ttl. A zero
// ttl disables caching.
func NewHandler(svc Service, c cache.Cache, ttl time.Duration, guard *auth.Guard, b *apierror.Boundary, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, cache: c, ttl: ttl, guard: guard, boundary: b, logger: logger}
}

// Routes mounts the menu routes on r. Category and item routes require the
// ADMIN or MODERATOR role.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/full-menu", h.handle(h.fullMenu))

	r.Group(func(r chi.Router) {
		r.Use(h.guard.Middleware, h.guard.RequireRole(rpc.RoleAdmin, rpc.RoleModerator))
		r.Get("/menu-category", h.handle(h.categories))
		r.Get("/menu-category/{id}", h.handle(h.category))
		r.Get("/menu-item", h.handle(h.items))
		r.Get("/menu-item/{id}", h.handle(h.item))
	})
}

func (h *Handler) handle(fn httpx.HandlerFunc) http.HandlerFunc {
	return httpx.Handle(h.boundary, fn)
}

// language validates the language query parameter. An empty value yields
// def, or an error when def is empty.
func language(r *http.Request, def string) (string, error) {
	lang := r.URL.Query().Get("language")
	if lang == "" {
		lang = def
	}
	for _, l := range Languages {
		if lang == l {
			return lang, nil
		}
	}
	return "", errLanguage
}

func writeDocument(w http.ResponseWriter, doc rpc.Document) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc) //nolint:errcheck
}

func reply(w http.ResponseWriter, doc rpc.Document, err error) error {
	if err != nil {
		return err
	}
	writeDocument(w, doc)
	return nil
}

func cacheKey(lang string) string { return "full-menu:" + lang }

// fullMenu serves the complete menu. Cache failures are logged and the
// backend is asked directly.
func (h *Handler) fullMenu(w http.ResponseWriter, r *http.Request) error {
	lang, err := language(r, DefaultLanguage)
	if err != nil {
		return err
	}
	ctx := r.Context()
	key := cacheKey(lang)

	if h.ttl > 0 {
		doc, ok, err := h.cache.Get(ctx, key)
		if err != nil {
			h.logger.WarnContext(ctx, "menu cache read failed", "key", key, "error", err)
		} else if ok {
			w.Header().Set("X-Cache", "HIT")
			writeDocument(w, doc)
			return nil
		}
	}

	h.logger.InfoContext(ctx, "fetch full menu", "language", lang)
	doc, err := h.svc.GetFullMenuByLanguage(ctx, lang)
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		return errMissingCatalog
	}

	if h.ttl > 0 {
		if err := h.cache.Set(ctx, key, doc, h.ttl); err != nil {
			h.logger.WarnContext(ctx, "menu cache write failed", "key", key, "error", err)
		}
		w.Header().Set("X-Cache", "MISS")
	}
	writeDocument(w, doc)
	return nil
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) error {
	lang, err := language(r, "")
	if err != nil {
		return err
	}
	doc, err := h.svc.GetMenuCategoriesByLanguage(r.Context(), lang)
	return reply(w, doc, err)
}

func (h *Handler) category(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	doc, err := h.svc.GetMenuCategoryByID(r.Context(), id)
	return reply(w, doc, err)
}

func (h *Handler) items(w http.ResponseWriter, r *http.Request) error {
	categoryID := r.URL.Query().Get("categoryId")
	if uuid.Validate(categoryID) != nil {
		return errCategoryID
	}
	h.logger.InfoContext(r.Context(), "fetch menu items", "category_id", categoryID)
	doc, err := h.svc.GetMenuItemsByCategoryID(r.Context(), categoryID)
	return reply(w, doc, err)
}

func (h *Handler) item(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		return errMenuItemID
	}
	doc, err := h.svc.GetMenuItemByID(r.Context(), id)
	return reply(w, doc, err)
}
