// Package apperr holds the error taxonomy shared by services, stores and
// the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrMissingCredential = errors.New("missing or malformed credential")
)

// HTTPStatus maps an error from the taxonomy to its response status.
// Anything unknown is an internal error.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrMissingCredential):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
