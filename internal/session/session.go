// Package session serves the /auth routes: sign-up, sign-in, email
// verification, refresh-token rotation, password reset and sign-out. The
// refresh token only ever travels in an HttpOnly cookie.
package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/auth"
	"github.com/dskow/api-gateway/internal/httpx"
	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/go-chi/chi/v5"
)

// Auth operations for the auth_attempts_total metric.
const (
	OpSignUp        = "signup"
	OpSignIn        = "signin"
	OpVerifyEmail   = "verify_email"
	OpRefreshTokens = "refresh_tokens"
	OpResetPassword = "reset_password"
)

var (
	errNoRefreshToken = apierror.Unauthorized("Unauthorized: No refresh token provided")
	errNoToken        = apierror.BadRequest("token should not be empty")
)

// AuthService is the backend that owns accounts, sessions and tokens.
type AuthService interface {
	SignUp(ctx context.Context, req rpc.SignUpRequest) (*rpc.User, error)
	ResendConfirmationEmail(ctx context.Context, email string) (*rpc.StatusResponse, error)
	VerifyEmail(ctx context.Context, req rpc.VerifyEmailRequest) (*rpc.AuthResponse, error)
	SignIn(ctx context.Context, req rpc.SignInRequest) (*rpc.AuthResponse, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*rpc.TokenPair, error)
	InitResetPassword(ctx context.Context, email string) (*rpc.StatusResponse, error)
	ResendResetPasswordEmail(ctx context.Context, email string) (*rpc.StatusResponse, error)
	SetNewPassword(ctx context.Context, req rpc.SetNewPasswordRequest) (*rpc.StatusResponse, error)
	SignOutCurrentDevice(ctx context.Context, userID, sessionID string) (*rpc.StatusResponse, error)
	SignOutOtherDevices(ctx context.Context, userID, sessionID string) (*rpc.StatusResponse, error)
	SignOutAllDevices(ctx context.Context, userID string) (*rpc.StatusResponse, error)
}

type signUpBody struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required,min=8,max=100,password"`
	Name        *string `json:"name" validate:"omitnil,min=2,max=30"`
	PhoneNumber *string `json:"phoneNumber" validate:"omitnil,e164"`
}

type signInBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type emailBody struct {
	Email string `json:"email" validate:"required,email"`
}

type passwordBody struct {
	Password string `json:"password" validate:"required,min=8,max=100,password"`
}

// authBody is an AuthResponse without the refresh token.
type authBody struct {
	AccessToken string    `json:"accessToken"`
	User        *rpc.User `json:"user"`
}

type tokenBody struct {
	AccessToken string `json:"accessToken"`
}

// Handler serves the /auth routes.
type Handler struct {
	svc      AuthService
	cookies  Cookies
	guard    *auth.Guard
	boundary *apierror.Boundary
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler creates the /auth handler. Token cookies are set and cleared
// through cookies.
func NewHandler(svc AuthService, cookies Cookies, guard *auth.Guard, b *apierror.Boundary, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, cookies: cookies, guard: guard, boundary: b, metrics: m, logger: logger}
}

// Routes mounts /auth on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.handle(h.signUp))
		r.Post("/resend-confirmation-email", h.handle(h.resendConfirmationEmail))
		r.Post("/verify-email", h.handle(h.verifyEmail))
		r.Post("/signin", h.handle(h.signIn))
		r.Post("/refresh-tokens", h.handle(h.refreshTokens))
		r.Post("/init-reset-password", h.handle(h.initResetPassword))
		r.Post("/resend-reset-password-email", h.handle(h.resendResetPasswordEmail))
		r.Post("/set-new-password", h.handle(h.setNewPassword))

		r.Group(func(r chi.Router) {
			r.Use(h.guard.Middleware)
			r.With(h.guard.RequireSession).Post("/logout-current-device", h.handle(h.logoutCurrentDevice))
			r.With(h.guard.RequireSession).Post("/logout-other-devices", h.handle(h.logoutOtherDevices))
			r.Post("/logout-all-devices", h.handle(h.logoutAllDevices))
		})
	})
}

func (h *Handler) handle(fn httpx.HandlerFunc) http.HandlerFunc {
	return httpx.Handle(h.boundary, fn)
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) error {
	var body signUpBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "sign-up request")

	req := rpc.SignUpRequest{Email: body.Email, Password: body.Password}
	if body.Name != nil {
		req.Name = *body.Name
	}
	if body.PhoneNumber != nil {
		req.PhoneNumber = *body.PhoneNumber
	}
	user, err := h.svc.SignUp(r.Context(), req)
	h.metrics.RecordAuth(OpSignUp, err)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, user)
	return nil
}

func (h *Handler) resendConfirmationEmail(w http.ResponseWriter, r *http.Request) error {
	var body emailBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	return h.status(w, func() (*rpc.StatusResponse, error) {
		return h.svc.ResendConfirmationEmail(r.Context(), body.Email)
	})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) error {
	token := r.URL.Query().Get("token")
	if token == "" {
		return errNoToken
	}
	h.logger.InfoContext(r.Context(), "email verification request")

	resp, err := h.svc.VerifyEmail(r.Context(), rpc.VerifyEmailRequest{Token: token, ClientInfo: ClientInfo(r)})
	h.metrics.RecordAuth(OpVerifyEmail, err)
	if err != nil {
		return err
	}
	h.cookies.Set(w, resp.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, authBody{AccessToken: resp.AccessToken, User: resp.User})
	return nil
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) error {
	var body signInBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "sign-in request")

	resp, err := h.svc.SignIn(r.Context(), rpc.SignInRequest{
		Email:      body.Email,
		Password:   body.Password,
		ClientInfo: ClientInfo(r),
	})
	h.metrics.RecordAuth(OpSignIn, err)
	if err != nil {
		return err
	}
	h.cookies.Set(w, resp.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, authBody{AccessToken: resp.AccessToken, User: resp.User})
	return nil
}

// refreshTokens rotates the refresh token. Without a cookie the backend is
// never called.
func (h *Handler) refreshTokens(w http.ResponseWriter, r *http.Request) error {
	token, ok := h.cookies.Read(r)
	if !ok {
		h.logger.WarnContext(r.Context(), "no refresh token in cookies")
		h.metrics.RecordAuth(OpRefreshTokens, errNoRefreshToken)
		return errNoRefreshToken
	}

	pair, err := h.svc.RefreshTokens(r.Context(), token)
	h.metrics.RecordAuth(OpRefreshTokens, err)
	if err != nil {
		return err
	}
	h.cookies.Set(w, pair.RefreshToken)
	httpx.WriteJSON(w, http.StatusOK, tokenBody{AccessToken: pair.AccessToken})
	return nil
}

func (h *Handler) initResetPassword(w http.ResponseWriter, r *http.Request) error {
	var body emailBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	return h.resetStatus(w, func() (*rpc.StatusResponse, error) {
		return h.svc.InitResetPassword(r.Context(), body.Email)
	})
}

func (h *Handler) resendResetPasswordEmail(w http.ResponseWriter, r *http.Request) error {
	var body emailBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	return h.resetStatus(w, func() (*rpc.StatusResponse, error) {
		return h.svc.ResendResetPasswordEmail(r.Context(), body.Email)
	})
}

func (h *Handler) setNewPassword(w http.ResponseWriter, r *http.Request) error {
	token := r.URL.Query().Get("token")
	if token == "" {
		return errNoToken
	}
	var body passwordBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	return h.resetStatus(w, func() (*rpc.StatusResponse, error) {
		return h.svc.SetNewPassword(r.Context(), rpc.SetNewPasswordRequest{Token: token, Password: body.Password})
	})
}

func (h *Handler) logoutCurrentDevice(w http.ResponseWriter, r *http.Request) error {
	c := auth.ClaimsFrom(r.Context())
	h.logger.InfoContext(r.Context(), "sign out current device", "user_id", c.UserID())
	h.cookies.Clear(w)
	return h.status(w, func() (*rpc.StatusResponse, error) {
		return h.svc.SignOutCurrentDevice(r.Context(), c.UserID(), c.SessionID)
	})
}

func (h *Handler) logoutOtherDevices(w http.ResponseWriter, r *http.Request) error {
	c := auth.ClaimsFrom(r.Context())
	h.logger.InfoContext(r.Context(), "sign out other devices", "user_id", c.UserID())
	return h.status(w, func() (*rpc.StatusResponse, error) {
		return h.svc.SignOutOtherDevices(r.Context(), c.UserID(), c.SessionID)
	})
}

func (h *Handler) logoutAllDevices(w http.ResponseWriter, r *http.Request) error {
	c := auth.ClaimsFrom(r.Context())
	h.logger.InfoContext(r.Context(), "sign out all devices", "user_id", c.UserID())
	h.cookies.Clear(w)
	return h.status(w, func() (*rpc.StatusResponse, error) {
		return h.svc.SignOutAllDevices(r.Context(), c.UserID())
	})
}

func (h *Handler) resetStatus(w http.ResponseWriter, call func() (*rpc.StatusResponse, error)) error {
	return h.status(w, func() (*rpc.StatusResponse, error) {
		resp, err := call()
		h.metrics.RecordAuth(OpResetPassword, err)
		return resp, err
	})
}

func (h *Handler) status(w http.ResponseWriter, call func() (*rpc.StatusResponse, error)) error {
	resp, err := call()
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
	return nil
}
