// Package user serves the profile routes under /user and the
// administrator routes under /admin.
package user

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/auth"
	"github.com/dskow/api-gateway/internal/httpx"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/go-chi/chi/v5"
)

var (
	errNoUpdateFields = apierror.BadRequest("At least one field (name, phoneNumber, avatarUrl) must be provided for update.")
	errNotOwnProfile  = apierror.Forbidden("You can only access your own profile")
)

// Service is the user backend.
type Service interface {
	GetUserByID(ctx context.Context, id string) (*rpc.User, error)
	UpdateUser(ctx context.Context, req rpc.UpdateUserRequest) (*rpc.User, error)
	DeleteUser(ctx context.Context, id string) (*rpc.StatusResponse, error)
	ConfirmPassword(ctx context.Context, req rpc.PasswordRequest) (*rpc.StatusResponse, error)
	ChangePassword(ctx context.Context, req rpc.PasswordRequest) (*rpc.StatusResponse, error)
	BanUser(ctx context.Context, req rpc.BanUserRequest) (*rpc.User, error)
	UnbanUser(ctx context.Context, req rpc.BanUserRequest) (*rpc.User, error)
	GetBannedUsers(ctx context.Context) (*rpc.BannedUsers, error)
	GetBanDetailsByUserID(ctx context.Context, id string) (*rpc.BanDetails, error)
	ChangeUserRole(ctx context.Context, req rpc.UserRoleRequest) (*rpc.User, error)
}

type updateBody struct {
	Name        *string `json:"name" validate:"omitnil,min=2,max=30"`
	PhoneNumber *string `json:"phoneNumber" validate:"omitnil,e164"`
}

type passwordBody struct {
	Password string `json:"password" validate:"required,min=8,max=100,password"`
}

type banBody struct {
	ID       string     `json:"id" validate:"required,uuid"`
	Reason   *string    `json:"reason"`
	BanUntil *time.Time `json:"banUntil"`
}

type roleBody struct {
	Role string `json:"role" validate:"required,oneof=USER MODERATOR ADMIN"`
}

// Handler serves /user and /admin.
type Handler struct {
	svc      Service
	guard    *auth.Guard
	boundary *apierror.Boundary
	logger   *slog.Logger
}

// NewHandler creates the /user handler.
func NewHandler(svc Service, guard *auth.Guard, b *apierror.Boundary, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, guard: guard, boundary: b, logger: logger}
}

// Routes mounts /user and /admin on r. Both require an access token; /admin
// requires the ADMIN role.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/user", func(r chi.Router) {
		r.Use(h.guard.Middleware)
		r.Get("/me", h.handle(h.me))
		r.Get("/{id}", h.handle(h.getByID))
		r.Post("/update", h.handle(h.update))
		r.Delete("/delete", h.handle(h.delete))
		r.Post("/confirm-password", h.handle(h.confirmPassword))
		r.Post("/change-password", h.handle(h.changePassword))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.guard.Middleware, h.guard.RequireRole(rpc.RoleAdmin))
		r.Get("/user/{id}", h.handle(h.adminGetByID))
		r.Post("/ban", h.handle(h.ban))
		r.Post("/unban", h.handle(h.unban))
		r.Post("/change-role/{id}", h.handle(h.changeRole))
		r.Get("/banned-users", h.handle(h.bannedUsers))
		r.Get("/ban-details/{id}", h.handle(h.banDetails))
	})
}

func (h *Handler) handle(fn httpx.HandlerFunc) http.HandlerFunc {
	return httpx.Handle(h.boundary, fn)
}

// reply writes v when err is nil and returns err otherwise.
func reply[T any](w http.ResponseWriter, v *T, err error) error {
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, v)
	return nil
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) error {
	id := auth.ClaimsFrom(r.Context()).UserID()
	u, err := h.svc.GetUserByID(r.Context(), id)
	return reply(w, u, err)
}

// getByID returns a profile. Only the owner and administrators may read it.
func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	c := auth.ClaimsFrom(r.Context())
	if id != c.UserID() && c.Role != rpc.RoleAdmin {
		return errNotOwnProfile
	}
	u, err := h.svc.GetUserByID(r.Context(), id)
	return reply(w, u, err)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) error {
	var body updateBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	if isEmpty(body.Name) && isEmpty(body.PhoneNumber) {
		return errNoUpdateFields
	}
	id := auth.ClaimsFrom(r.Context()).UserID()
	h.logger.InfoContext(r.Context(), "update user", "user_id", id)

	u, err := h.svc.UpdateUser(r.Context(), rpc.UpdateUserRequest{ID: id, Name: body.Name, PhoneNumber: body.PhoneNumber})
	return reply(w, u, err)
}

func isEmpty(s *string) bool { return s == nil || *s == "" }

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) error {
	id := auth.ClaimsFrom(r.Context()).UserID()
	h.logger.InfoContext(r.Context(), "delete user", "user_id", id)
	resp, err := h.svc.DeleteUser(r.Context(), id)
	return reply(w, resp, err)
}

func (h *Handler) confirmPassword(w http.ResponseWriter, r *http.Request) error {
	var body passwordBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	id := auth.ClaimsFrom(r.Context()).UserID()
	resp, err := h.svc.ConfirmPassword(r.Context(), rpc.PasswordRequest{ID: id, Password: body.Password})
	return reply(w, resp, err)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) error {
	var body passwordBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	id := auth.ClaimsFrom(r.Context()).UserID()
	resp, err := h.svc.ChangePassword(r.Context(), rpc.PasswordRequest{ID: id, Password: body.Password})
	return reply(w, resp, err)
}

func (h *Handler) adminGetByID(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "admin get user", "admin_id", auth.ClaimsFrom(r.Context()).UserID(), "user_id", id)
	u, err := h.svc.GetUserByID(r.Context(), id)
	return reply(w, u, err)
}

func (h *Handler) banRequest(r *http.Request) (rpc.BanUserRequest, error) {
	var body banBody
	if err := httpx.Decode(r, &body); err != nil {
		return rpc.BanUserRequest{}, err
	}
	req := rpc.BanUserRequest{ID: body.ID, BanUntil: body.BanUntil, BannedBy: auth.ClaimsFrom(r.Context()).UserID()}
	if body.Reason != nil {
		req.Reason = *body.Reason
	}
	return req, nil
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request) error {
	req, err := h.banRequest(r)
	if err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "admin ban user", "admin_id", req.BannedBy, "user_id", req.ID)
	u, err := h.svc.BanUser(r.Context(), req)
	return reply(w, u, err)
}

func (h *Handler) unban(w http.ResponseWriter, r *http.Request) error {
	req, err := h.banRequest(r)
	if err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "admin unban user", "admin_id", req.BannedBy, "user_id", req.ID)
	u, err := h.svc.UnbanUser(r.Context(), req)
	return reply(w, u, err)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	var body roleBody
	if err := httpx.Decode(r, &body); err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "admin change role", "admin_id", auth.ClaimsFrom(r.Context()).UserID(), "user_id", id, "role", body.Role)
	u, err := h.svc.ChangeUserRole(r.Context(), rpc.UserRoleRequest{ID: id, Role: body.Role})
	return reply(w, u, err)
}

func (h *Handler) bannedUsers(w http.ResponseWriter, r *http.Request) error {
	resp, err := h.svc.GetBannedUsers(r.Context())
	if err != nil {
		return err
	}
	users := resp.Users
	if users == nil {
		users = []rpc.User{}
	}
	httpx.WriteJSON(w, http.StatusOK, users)
	return nil
}

func (h *Handler) banDetails(w http.ResponseWriter, r *http.Request) error {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetBanDetailsByUserID(r.Context(), id)
	return reply(w, d, err)
}
