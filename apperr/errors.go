// Package apperr defines the error taxonomy shared by every layer of the
// server. Inner packages return these sentinels (usually wrapped); the HTTP
// boundary translates them to status codes with Status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput indicates a malformed or missing request field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated indicates a missing, malformed, unknown or revoked credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates a valid credential used outside its scope.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates a missing resource.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an idempotency or uniqueness violation.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited indicates an exhausted usage window. The caller should
	// back off until the window rolls over.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstream indicates a failed embedding or generation provider call.
	// Upstream failures are never retried inside this server.
	ErrUpstream = errors.New("upstream error")

	// ErrEmbeddingMismatch indicates the embedding provider violated its
	// contract (wrong vector count or dimensionality). Fatal for the call.
	ErrEmbeddingMismatch = errors.New("embedding mismatch")
)

// Status maps a taxonomy error to its HTTP status code. Unknown errors map
// to 500 so unexpected failures never leak as client errors.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrEmbeddingMismatch):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// InvalidInputf wraps ErrInvalidInput with a formatted reason.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
