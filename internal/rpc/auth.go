package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const authService = "/auth.v1.AuthService/"

// AuthClient calls the user service's authentication API.
type AuthClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthClient creates an AuthClient on cc.
func NewAuthClient(cc grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{cc: cc}
}

func (c *AuthClient) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	return invoke[User](ctx, c.cc, authService+"SignUp", req)
}

func (c *AuthClient) ResendConfirmationEmail(ctx context.Context, email string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, authService+"ResendConfirmationEmail", EmailRequest{Email: email})
}

func (c *AuthClient) VerifyEmail(ctx context.Context, req VerifyEmailRequest) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, authService+"VerifyEmail", req)
}

func (c *AuthClient) SignIn(ctx context.Context, req SignInRequest) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, authService+"SignIn", req)
}

func (c *AuthClient) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return invoke[TokenPair](ctx, c.cc, authService+"RefreshTokens", TokenRequest{Token: refreshToken})
}

func (c *AuthClient) InitResetPassword(ctx context.Context, email string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, authService+"InitResetPassword", EmailRequest{Email: email})
}

func (c *AuthClient) ResendResetPasswordEmail(ctx context.Context, email string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, authService+"ResendResetPasswordEmail", EmailRequest{Email: email})
}

func (c *AuthClient) SetNewPassword(ctx context.Context, req SetNewPasswordRequest) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, authService+"SetNewPassword", req)
}

func (c *AuthClient) SignOutCurrentDevice(ctx context.Context, userID, sessionID string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, authService+"SignOutCurrentDevice", SessionRequest{UserID: userID, SessionID: sessionID})
}

func (c *AuthClient) SignOutOtherDevices(ctx context.Context, userID, sessionID string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, authService+"SignOutOtherDevices", SessionRequest{UserID: userID, SessionID: sessionID})
}

func (c *AuthClient) SignOutAllDevices(ctx context.Context, userID string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, authService+"SignOutAllDevices", SessionRequest{UserID: userID})
}
