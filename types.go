package auth

import (
	"context"
	"fmt"
	"time"
)

// Logger is the logging contract used across the package. It is satisfied
// by glog loggers and by the built in fallback.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function into a LoggerProvider.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return defLogger{}
	}
	return f(name)
}

// ResolveLogger picks a named logger from provider, falling back to
// fallback and finally to the default stdout logger.
func ResolveLogger(name string, provider LoggerProvider, fallback Logger) Logger {
	if provider != nil {
		if lgr := provider.GetLogger(name); lgr != nil {
			return lgr
		}
	}
	if fallback != nil {
		return fallback
	}
	return defLogger{}
}

// Config holds the options the session layer needs. config.Settings
// implements it; tests use small stubs.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetClockSkew() time.Duration
	GetSessionTTL() time.Duration
	GetRememberTTL() time.Duration
	GetRefreshTTL() time.Duration
	GetCookieSecure() bool
	GetCookieSameSite() string
	GetCookieDomain() string
}

// IdentityAPI is the upstream identity provider. Implementations must
// only return grants for successful calls; the grant claims are decoded
// without signature verification and are trusted because the call succeeded.
type IdentityAPI interface {
	Login(ctx context.Context, username, password string) (*UpstreamGrant, error)
	Refresh(ctx context.Context, refreshToken string) (*UpstreamGrant, error)
}

// UpstreamGrant is what the identity API returns on success.
type UpstreamGrant struct {
	Token        string
	RefreshToken string
	Claims       UpstreamClaims
}

// UpstreamClaims is the subset of the upstream token payload we map into
// a session.
type UpstreamClaims struct {
	Subject        string
	Username       string
	DisplayName    string
	RoleCode       string
	RoleID         *int
	ApprovalLevel  int
	OrganizationID string
	DepartmentID   string
	IssuedAt       *time.Time
	ExpiresAt      *time.Time
	NotBefore      *time.Time
}

type defLogger struct{}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
