package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const userService = "/user.v1.UserService/"

// UserClient calls the user service's profile and administration API.
type UserClient struct {
	cc grpc.ClientConnInterface
}

// NewUserClient creates a UserClient on cc.
func NewUserClient(cc grpc.ClientConnInterface) *UserClient {
	return &UserClient{cc: cc}
}

func (c *UserClient) GetUserByID(ctx context.Context, id string) (*User, error) {
	return invoke[User](ctx, c.cc, userService+"GetUserById", IDRequest{ID: id})
}

func (c *UserClient) UpdateUser(ctx context.Context, req UpdateUserRequest) (*User, error) {
	return invoke[User](ctx, c.cc, userService+"UpdateUser", req)
}

func (c *UserClient) DeleteUser(ctx context.Context, id string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, userService+"DeleteUser", IDRequest{ID: id})
}

func (c *UserClient) ConfirmPassword(ctx context.Context, req PasswordRequest) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, userService+"ConfirmPassword", req)
}

func (c *UserClient) ChangePassword(ctx context.Context, req PasswordRequest) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, userService+"ChangePassword", req)
}

func (c *UserClient) BanUser(ctx context.Context, req BanUserRequest) (*User, error) {
	return invoke[User](ctx, c.cc, userService+"BanUser", req)
}

func (c *UserClient) UnbanUser(ctx context.Context, req BanUserRequest) (*User, error) {
	return invoke[User](ctx, c.cc, userService+"UnbanUser", req)
}

func (c *UserClient) GetBannedUsers(ctx context.Context) (*BannedUsers, error) {
	return invoke[BannedUsers](ctx, c.cc, userService+"GetBannedUsers", Empty{})
}

func (c *UserClient) GetBanDetailsByUserID(ctx context.Context, id string) (*BanDetails, error) {
	return invoke[BanDetails](ctx, c.cc, userService+"GetBanDetailsByUserId", IDRequest{ID: id})
}

func (c *UserClient) ChangeUserRole(ctx context.Context, req UserRoleRequest) (*User, error) {
	return invoke[User](ctx, c.cc, userService+"ChangeUserRole", req)
}
