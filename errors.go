package auth

import (
	stderrors "errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenNotYetValid    = "TOKEN_NOT_YET_VALID"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeMissingRole         = "MISSING_ROLE"
	TextCodeMissingToken        = "MISSING_TOKEN"
	TextCodeRouteDenied         = "ROUTE_DENIED"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	TextCodeMissingSigningKey   = "MISSING_SIGNING_KEY"
	TextCodeTooManyAttempts     = "TOO_MANY_ATTEMPTS"
	TextCodeProtectedRole       = "PROTECTED_ROLE_FIELD"
	TextCodeGatewayFailure      = "GATEWAY_FAILURE"
	TextCodeRoleNotFound        = "ROLE_NOT_FOUND"
)

// ErrTokenExpired is returned when a token is past exp plus the clock skew window.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenNotYetValid is returned when nbf minus the clock skew is still in the future.
var ErrTokenNotYetValid = goerrors.New("token is not valid yet", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenNotYetValid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed covers structural and signature failures.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrMissingRole is returned for claims without a role code.
var ErrMissingRole = goerrors.New("claims carry no role", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingRole).
	WithCode(goerrors.CodeUnauthorized)

// ErrMissingToken is returned when a protected request carries no session.
var ErrMissingToken = goerrors.New("missing session token", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrRouteDenied is returned when a valid session lacks the role for a zone.
var ErrRouteDenied = goerrors.New("route denied for role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRouteDenied).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidCredentials is the single error reported for any login rejection.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrUpstreamUnavailable is a retryable failure talking to the identity API.
var ErrUpstreamUnavailable = goerrors.New("identity service unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeUpstreamUnavailable).
	WithCode(http.StatusBadGateway)

// ErrMissingSigningKey prevents the codec from being built without a key.
var ErrMissingSigningKey = goerrors.New("signing key is required", goerrors.CategoryInternal).
	WithTextCode(TextCodeMissingSigningKey).
	WithCode(goerrors.CodeInternal)

// ErrTooManyAttempts is returned when login attempts are throttled.
var ErrTooManyAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrProtectedRoleField is returned when editing a locked field of a reserved role.
var ErrProtectedRoleField = goerrors.New("field is locked on protected role", goerrors.CategoryValidation).
	WithTextCode(TextCodeProtectedRole).
	WithCode(goerrors.CodeBadRequest)

// ErrGatewayFailure marks an internal gateway fault. The request is treated
// as unauthenticated.
var ErrGatewayFailure = goerrors.New("gateway failed to evaluate request", goerrors.CategoryInternal).
	WithTextCode(TextCodeGatewayFailure).
	WithCode(goerrors.CodeInternal)

// withMetadata returns a per call copy of base so sentinels are never mutated.
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

// wrapAs keeps the sentinel text code while recording the cause.
func wrapAs(base *goerrors.Error, cause error) *goerrors.Error {
	if cause == nil {
		return withMetadata(base, nil)
	}
	// never hand a shared *goerrors.Error to Wrap
	var richErr *goerrors.Error
	if stderrors.As(cause, &richErr) {
		cause = fmt.Errorf("%w", cause)
	}
	return goerrors.Wrap(cause, base.Category, base.Message).
		WithTextCode(base.TextCode).
		WithCode(base.Code)
}

// TextCode returns the text code of the first go-errors error in the chain.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if stderrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}

// IsAuthError reports whether err should end the session: any token, role
// or missing session failure.
func IsAuthError(err error) bool {
	switch TextCode(err) {
	case TextCodeTokenExpired, TextCodeTokenNotYetValid, TextCodeTokenMalformed,
		TextCodeMissingRole, TextCodeMissingToken:
		return true
	}
	return false
}

// IsRetryable reports whether the caller may retry later.
func IsRetryable(err error) bool {
	return HasTextCode(err, TextCodeUpstreamUnavailable)
}

// HTTPStatus maps an error to the response status we report.
func HTTPStatus(err error) int {
	var richErr *goerrors.Error
	if stderrors.As(err, &richErr) && richErr.Code > 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// NewInvalidCredentials is for IdentityAPI implementations outside this
// package.
func NewInvalidCredentials(meta map[string]any) error {
	return withMetadata(ErrInvalidCredentials, meta)
}

// NewUpstreamUnavailable wraps cause as a retryable upstream failure.
func NewUpstreamUnavailable(cause error) error {
	return wrapAs(ErrUpstreamUnavailable, cause)
}

// NewTokenMalformed wraps a decode failure as a malformed token.
func NewTokenMalformed(cause error) error {
	return wrapAs(ErrTokenMalformed, cause)
}
