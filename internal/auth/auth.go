// Package auth provides the access-token guard and the role and session
// guards layered on it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// ClaimsKey is the context key used to store validated access token claims.
const ClaimsKey contextKey = "jwt_claims"

var (
	errUnauthorized = apierror.Unauthorized("Unauthorized")
	errBanned       = apierror.Forbidden("User is banned")
	errNoRole       = apierror.Forbidden("Role not found")
	errRole         = apierror.Forbidden("Insufficient permissions")
	errNoSession    = apierror.Unauthorized("Unauthorized: No current session ID found")
)

// Claims is the payload of a backend-issued access token.
type Claims struct {
	IsBanned  bool   `json:"isBanned"`
	Role      string `json:"role"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *Claims) UserID() string { return c.Subject }

// Guard validates HS256 access tokens signed with the shared secret.
type Guard struct {
	secret   []byte
	boundary *apierror.Boundary
	logger   *slog.Logger
}

// NewGuard creates a Guard that verifies HS256 access tokens signed with
// secret.
func NewGuard(secret string, b *apierror.Boundary, logger *slog.Logger) *Guard {
	return &Guard{secret: []byte(secret), boundary: b, logger: logger}
}

// Middleware rejects requests without a valid bearer token and stores the
// claims in the request context. Banned users are rejected here without
// asking the backend; a ban issued after the token was signed takes effect
// when the token expires.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := extractBearerToken(r)
		if !ok {
			g.boundary.Handle(w, r, errUnauthorized)
			return
		}

		claims, err := g.Validate(tokenStr)
		if err != nil {
			g.logger.Warn("auth failure", "error", err, "path", r.URL.Path)
			g.boundary.Handle(w, r, errUnauthorized)
			return
		}
		if claims.IsBanned {
			g.boundary.Handle(w, r, errBanned)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// Validate parses tokenStr and checks signature and expiry.
func (g *Guard) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, c)
}

// ClaimsFrom returns the claims stored by the guard, or nil.
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(ClaimsKey).(*Claims)
	return c
}

// RequireRole admits only callers whose role is one of roles. It must run
// behind Middleware.
func (g *Guard) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := ClaimsFrom(r.Context())
			switch {
			case c == nil || c.Role == "":
				g.boundary.Handle(w, r, errNoRole)
			case !slices.Contains(roles, c.Role):
				g.boundary.Handle(w, r, errRole)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireSession admits only tokens that carry a session ID.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFrom(r.Context()); c == nil || c.SessionID == "" {
			g.boundary.Handle(w, r, errNoSession)
			return
		}
		next.ServeHTTP(w, r)
	})
}
