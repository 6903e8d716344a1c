package backend

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnexpectedShape    = "BACKEND_UNEXPECTED_SHAPE"
	TextCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	TextCodeBackendRejected    = "BACKEND_REJECTED"
	TextCodeBackendForbidden   = "BACKEND_FORBIDDEN"
)

// ErrUnexpectedShape is returned when a response is not the canonical
// envelope. There is no fallback parsing.
var ErrUnexpectedShape = goerrors.New("backend response has unexpected shape", goerrors.CategoryOperation).
	WithTextCode(TextCodeUnexpectedShape).
	WithCode(http.StatusBadGateway)

// ErrBackendUnavailable covers transport failures, timeouts and 5xx.
var ErrBackendUnavailable = goerrors.New("backend unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeBackendUnavailable).
	WithCode(http.StatusBadGateway)

// ErrBackendRejected is returned when the backend refuses the API token.
var ErrBackendRejected = goerrors.New("backend rejected credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeBackendRejected).
	WithCode(goerrors.CodeUnauthorized)

// ErrBackendForbidden is returned when the backend denies the caller.
var ErrBackendForbidden = goerrors.New("backend denied request", goerrors.CategoryAuthz).
	WithTextCode(TextCodeBackendForbidden).
	WithCode(goerrors.CodeForbidden)

func withMetadata(base *goerrors.Error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	if len(meta) == 0 {
		return clone
	}
	return clone.WithMetadata(meta)
}
