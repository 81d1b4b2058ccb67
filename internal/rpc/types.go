package rpc

import (
	"encoding/json"
	"time"
)

// Roles carried in access tokens and user records.
const (
	RoleUser      = "USER"
	RoleModerator = "MODERATOR"
	RoleAdmin     = "ADMIN"
)

// User is the user service's full user record.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Role            string     `json:"role"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	IsBanned        bool       `json:"isBanned"`
	Name            string     `json:"name,omitempty"`
	PhoneNumber     string     `json:"phoneNumber,omitempty"`
	AvatarURL       string     `json:"avatarUrl,omitempty"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// StatusResponse is the generic acknowledgement returned by mutating calls.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ClientInfo identifies the device a session is opened from.
type ClientInfo struct {
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
}

type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type SignInRequest struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	ClientInfo ClientInfo `json:"clientInfo"`
}

type VerifyEmailRequest struct {
	Token      string     `json:"token"`
	ClientInfo ClientInfo `json:"clientInfo"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type SetNewPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type SessionRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

// AuthResponse is returned by sign-in and email verification.
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

// TokenPair is returned by refresh-token rotation.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type IDRequest struct {
	ID string `json:"id"`
}

// UpdateUserRequest changes only the non-nil fields. An empty AvatarURL
// clears the avatar.
type UpdateUserRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

type PasswordRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type BanUserRequest struct {
	ID       string     `json:"id"`
	Reason   string     `json:"reason,omitempty"`
	BanUntil *time.Time `json:"banUntil,omitempty"`
	BannedBy string     `json:"bannedBy"`
}

type UserRoleRequest struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type BannedUsers struct {
	Users []User `json:"users"`
}

type BanDetails struct {
	UserID   string     `json:"userId"`
	Reason   string     `json:"reason,omitempty"`
	BanUntil *time.Time `json:"banUntil,omitempty"`
	BannedBy string     `json:"bannedBy"`
	BannedAt *time.Time `json:"bannedAt,omitempty"`
}

type FileKeyRequest struct {
	FileKey string `json:"fileKey"`
}

type FileURL struct {
	FileURL string `json:"fileUrl"`
}

// UploadAvatarRequest carries the uploaded image. Buffer is base64 on the
// wire.
type UploadAvatarRequest struct {
	ID           string `json:"id"`
	FieldName    string `json:"fieldName"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Buffer       []byte `json:"buffer"`
	Size         int64  `json:"size"`
}

// HealthStatus is one probe result.
type HealthStatus struct {
	Serving bool   `json:"serving"`
	Message string `json:"message"`
}

// Dependency is one entry of a connections probe.
type Dependency struct {
	Name   string       `json:"name"`
	Type   string       `json:"type"`
	Status HealthStatus `json:"status"`
}

// ConnectionsStatus is a backend's view of its own dependencies.
type ConnectionsStatus struct {
	Serving      bool         `json:"serving"`
	Message      string       `json:"message"`
	Dependencies []Dependency `json:"dependencies"`
}

type LanguageRequest struct {
	Language string `json:"language"`
}

type CategoryRequest struct {
	CategoryID string `json:"categoryId"`
}

// Empty is the request of parameterless calls.
type Empty struct{}

// Document is a menu payload passed through to clients as-is.
type Document = json.RawMessage
