// Package httpx holds the JSON request and response helpers shared by the
// route handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	passwordChars = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	hasLower      = regexp.MustCompile(`[a-z]`)
	hasUpper      = regexp.MustCompile(`[A-Z]`)
	hasDigit      = regexp.MustCompile(`[0-9]`)
)

// Messages for field+tag pairs whose wording clients depend on.
var fieldMessages = map[string]string{
	"password.min":         "Password must be at least 8 characters",
	"password.max":         "Password must be at least 8 characters",
	"password.password":    "Password must contain at least one uppercase letter, one lowercase letter and one number",
	"newPassword.min":      "Password must be at least 8 characters",
	"newPassword.max":      "Password must be at least 8 characters",
	"newPassword.password": "Password must contain at least one uppercase letter, one lowercase letter and one number",
	"name.min":             "Name must be at least 2 characters",
	"name.max":             "Name must be at least 2 characters",
	"phoneNumber.e164":     "Phone number must be valid",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("password", validatePassword); err != nil {
		panic(fmt.Sprintf("register password validator: %v", err))
	}
	return v
}

// validatePassword requires letters and digits only, with at least one
// upper-case letter, one lower-case letter and one digit.
func validatePassword(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return passwordChars.MatchString(s) && hasLower.MatchString(s) && hasUpper.MatchString(s) && hasDigit.MatchString(s)
}

// Decode reads a JSON body into dst and validates it. Unknown fields are
// ignored. Failures are returned as 400 errors carrying the first problem
// found; an oversized body returns middleware.ErrBodyTooLarge.
func Decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return middleware.ErrBodyTooLarge
		case errors.Is(err, io.EOF):
			return apierror.BadRequest("Request body is required")
		default:
			return apierror.BadRequest("Invalid JSON body")
		}
	}
	return Validate(dst)
}

// Validate runs the struct's validate tags.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apierror.BadRequest(message(verrs[0]))
	}
	return apierror.BadRequest(err.Error())
}

func message(e validator.FieldError) string {
	field := e.Field()
	if msg, ok := fieldMessages[field+"."+e.Tag()]; ok {
		return msg
	}
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s should not be empty", field)
	case "email":
		return fmt.Sprintf("%s must be an email", field)
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a UUID", field)
	case "min":
		return fmt.Sprintf("%s must be longer than or equal to %s characters", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be shorter than or equal to %s characters", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of the following values: %s", field, strings.ReplaceAll(e.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// WriteJSON writes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// HandlerFunc is an HTTP handler that returns its failure instead of
// writing it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to http.HandlerFunc. A returned error is answered by b.
func Handle(b *apierror.Boundary, fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			b.Handle(w, r, err)
		}
	}
}

// UUIDParam returns the chi path parameter name, which must be a UUID.
func UUIDParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if err := uuid.Validate(v); err != nil {
		return "", apierror.BadRequest("Validation failed (uuid is expected)")
	}
	return v, nil
}
