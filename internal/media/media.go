// Package media serves the avatar routes under /media. Avatar changes touch
// both the media and the user backends and are ordered so no stored object
// is left without a user record pointing at it.
package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/auth"
	"github.com/dskow/api-gateway/internal/httpx"
	"github.com/dskow/api-gateway/internal/middleware"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/go-chi/chi/v5"
)

const (
	avatarField   = "avatar"
	avatarPrefix  = "avatar/"
	maxAvatarSize = 1 << 20
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var (
	errUserNotFound  = apierror.BadRequest("User not found")
	errNoAvatar      = apierror.BadRequest("User does not have an avatar")
	errNothingToDrop = apierror.BadRequest("User does not have an avatar to remove")
	errNoFile        = apierror.BadRequest("File is required")
	errFileTooLarge  = apierror.BadRequest("File size should not exceed 1MB")
	errFileType      = apierror.BadRequest("Only image files (jpeg, png, gif, webp) are allowed")
	errNoFileURL     = apierror.ServiceUnavailable("Failed to upload avatar, no file URL returned")
)

// UserService is the part of the user backend that owns avatar references.
type UserService interface {
	GetUserByID(ctx context.Context, id string) (*rpc.User, error)
	UpdateUser(ctx context.Context, req rpc.UpdateUserRequest) (*rpc.User, error)
}

// Store is the media backend.
type Store interface {
	GetImageURL(ctx context.Context, fileKey string) (*rpc.FileURL, error)
	UploadAvatar(ctx context.Context, req rpc.UploadAvatarRequest) (*rpc.FileURL, error)
	DeleteAvatar(ctx context.Context, fileKey string) (*rpc.StatusResponse, error)
}

// Handler serves /media.
type Handler struct {
	users    UserService
	store    Store
	guard    *auth.Guard
	boundary *apierror.Boundary
	logger   *slog.Logger
}

// NewHandler creates the /media handler.
func NewHandler(users UserService, store Store, guard *auth.Guard, b *apierror.Boundary, logger *slog.Logger) *Handler {
	return &Handler{users: users, store: store, guard: guard, boundary: b, logger: logger}
}

// Routes mounts /media on r behind the access guard.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/media", func(r chi.Router) {
		r.Use(h.guard.Middleware)
		r.Get("/avatar-url", httpx.Handle(h.boundary, h.avatarURL))
		r.Post("/upload-avatar", httpx.Handle(h.boundary, h.uploadAvatar))
		r.Delete("/remove-avatar", httpx.Handle(h.boundary, h.removeAvatar))
	})
}

func (h *Handler) lookup(ctx context.Context, id string) (*rpc.User, error) {
	u, err := h.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ID == "" {
		h.logger.WarnContext(ctx, "user not found", "user_id", id)
		return nil, errUserNotFound
	}
	return u, nil
}

func (h *Handler) avatarURL(w http.ResponseWriter, r *http.Request) error {
	u, err := h.lookup(r.Context(), auth.ClaimsFrom(r.Context()).UserID())
	if err != nil {
		return err
	}
	if u.AvatarURL == "" {
		return errNoAvatar
	}
	url, err := h.store.GetImageURL(r.Context(), avatarPrefix+u.AvatarURL)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, url)
	return nil
}

// uploadAvatar replaces the caller's avatar: the old object is deleted
// before the upload, and the user record is updated only after the upload
// returned a URL. Once started, the sequence runs on a context the caller
// cannot cancel; each call is still bounded by its backend timeout.
func (h *Handler) uploadAvatar(w http.ResponseWriter, r *http.Request) error {
	userID := auth.ClaimsFrom(r.Context()).UserID()
	req, err := readAvatar(r, userID)
	if err != nil {
		return err
	}

	ctx := context.WithoutCancel(r.Context())
	u, err := h.lookup(ctx, userID)
	if err != nil {
		return err
	}
	if u.AvatarURL != "" {
		h.logger.InfoContext(ctx, "removing old avatar", "user_id", userID)
		if _, err := h.store.DeleteAvatar(ctx, avatarPrefix+u.AvatarURL); err != nil {
			return err
		}
	}

	url, err := h.store.UploadAvatar(ctx, req)
	if err != nil {
		return err
	}
	if url == nil || url.FileURL == "" {
		return errNoFileURL
	}

	if _, err := h.users.UpdateUser(ctx, rpc.UpdateUserRequest{ID: userID, AvatarURL: &url.FileURL}); err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "avatar uploaded", "user_id", userID, "size", req.Size)
	httpx.WriteJSON(w, http.StatusOK, url)
	return nil
}

// removeAvatar deletes the stored object, then clears the user record. Like
// uploadAvatar, it is not cancelled by the caller going away.
func (h *Handler) removeAvatar(w http.ResponseWriter, r *http.Request) error {
	ctx := context.WithoutCancel(r.Context())
	userID := auth.ClaimsFrom(ctx).UserID()
	u, err := h.lookup(ctx, userID)
	if err != nil {
		return err
	}
	if u.AvatarURL == "" {
		return errNothingToDrop
	}

	if _, err := h.store.DeleteAvatar(ctx, avatarPrefix+u.AvatarURL); err != nil {
		return err
	}
	empty := ""
	if _, err := h.users.UpdateUser(ctx, rpc.UpdateUserRequest{ID: userID, AvatarURL: &empty}); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "avatar removed", "user_id", userID)
	httpx.WriteJSON(w, http.StatusOK, rpc.StatusResponse{Success: true, Message: "Avatar removed successfully"})
	return nil
}

// readAvatar extracts and checks the multipart "avatar" file.
func readAvatar(r *http.Request, userID string) (rpc.UploadAvatarRequest, error) {
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return rpc.UploadAvatarRequest{}, middleware.ErrBodyTooLarge
		}
		return rpc.UploadAvatarRequest{}, errNoFile
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, hdr, err := r.FormFile(avatarField)
	if err != nil {
		return rpc.UploadAvatarRequest{}, errNoFile
	}
	defer file.Close()

	if hdr.Size > maxAvatarSize {
		return rpc.UploadAvatarRequest{}, errFileTooLarge
	}
	buf, err := readAll(file)
	if err != nil {
		return rpc.UploadAvatarRequest{}, err
	}

	mimeType := hdr.Header.Get("Content-Type")
	if !allowedTypes[mimeType] || !allowedTypes[http.DetectContentType(buf)] {
		return rpc.UploadAvatarRequest{}, errFileType
	}

	return rpc.UploadAvatarRequest{
		ID:           userID,
		FieldName:    avatarField,
		OriginalName: hdr.Filename,
		MimeType:     mimeType,
		Buffer:       buf,
		Size:         int64(len(buf)),
	}, nil
}

func readAll(f multipart.File) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(f, maxAvatarSize+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxAvatarSize {
		return nil, errFileTooLarge
	}
	return buf, nil
}
