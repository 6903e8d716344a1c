// Package csrf protects the cookie authenticated API with stateless,
// session bound tokens sent back in a request header.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrTokenMissing     = errors.New("CSRF token missing")
	ErrTokenExpired     = errors.New("CSRF token expired")
	ErrSecureKeyMissing = errors.New("CSRF secure key required")
)

// DefaultNonceLength is the number of random bytes in a token.
const DefaultNonceLength = 16

// DefaultContextKey is the locals key holding the request's token.
const DefaultContextKey = "csrf_token"

// DefaultHeaderName is the header clients echo the token in.
const DefaultHeaderName = "X-CSRF-Token"

// MinKeyLength is the shortest accepted SecureKey.
const MinKeyLength = 32

// Context is the part of a router context the middleware needs.
type Context interface {
	auth.LocalsReader
	Method() string
	GetString(key string, def string) string
	JSON(code int, v any) error
}

// Config defines the configuration for the CSRF middleware.
type Config struct {
	// Skip bypasses the middleware. By default requests without a verified
	// identity are skipped; they are public routes the gateway let through.
	Skip func(Context) bool

	// NonceLength is the number of random bytes per token.
	NonceLength int

	// ContextKey is where the token is stored in locals.
	ContextKey string

	// HeaderName is the header checked on unsafe methods.
	HeaderName string

	// ErrorHandler writes the rejection.
	ErrorHandler func(Context, error) error

	// SafeMethods don't require a token.
	SafeMethods []string

	// Expiration bounds token age. Zero disables the check.
	Expiration time.Duration

	// SecureKey signs tokens. It must be at least MinKeyLength bytes.
	SecureKey []byte

	// Now is the clock, for tests.
	Now func() time.Time
}

// KeyFromSecret derives a CSRF key from another secret so the portal does
// not reuse the session signing key directly.
func KeyFromSecret(secret string) []byte {
	sum := sha256.Sum256([]byte("csrf\x00" + secret))
	return sum[:]
}

// New returns go-router middleware. It panics when cfg has no usable key.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			return Handle(c, cfg, func() error { return next(c) })
		}
	}
}

// Handle issues a token for c and validates the header on unsafe methods.
func Handle(c Context, cfg Config, next func() error) error {
	if cfg.Skip != nil && cfg.Skip(c) {
		return next()
	}

	subject := sessionKey(c)
	token, err := generateToken(cfg, subject)
	if err != nil {
		return cfg.ErrorHandler(c, err)
	}
	c.Locals(cfg.ContextKey, token)

	if slices.Contains(cfg.SafeMethods, strings.ToUpper(c.Method())) {
		return next()
	}

	received := strings.TrimSpace(c.GetString(cfg.HeaderName, ""))
	if received == "" {
		return cfg.ErrorHandler(c, ErrTokenMissing)
	}
	if err := validateToken(cfg, received, subject); err != nil {
		return cfg.ErrorHandler(c, err)
	}

	return next()
}

func generateToken(cfg Config, subject string) (string, error) {
	if len(cfg.SecureKey) == 0 {
		return "", ErrSecureKeyMissing
	}

	nonce := make([]byte, cfg.NonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", cfg.Now().UTC().Unix(), hex.EncodeToString(nonce), subject)
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateToken(cfg Config, token, subject string) error {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	// subject ids may contain colons; the fixed fields are on the ends
	raw := string(decoded)
	last := strings.LastIndex(raw, ":")
	if last < 0 {
		return ErrTokenMismatch
	}
	payload, signatureHex := raw[:last], raw[last+1:]

	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		return ErrTokenMismatch
	}
	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrTokenMismatch
	}
	if !hmac.Equal(signature, sign(cfg.SecureKey, payload)) {
		return ErrTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(subject)) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && cfg.Now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func sessionKey(c Context) string {
	if identity, ok := auth.IdentityFromRouter(c); ok {
		return identity.SubjectID
	}
	return ""
}

func hasNoIdentity(c Context) bool {
	_, ok := auth.IdentityFromRouter(c)
	return !ok
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Skip == nil {
		cfg.Skip = hasNoIdentity
	}
	if cfg.NonceLength <= 0 {
		cfg.NonceLength = DefaultNonceLength
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 12 * time.Hour
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.SecureKey) < MinKeyLength {
		panic(fmt.Errorf("csrf: secure key must be at least %d bytes, got %d", MinKeyLength, len(cfg.SecureKey)))
	}

	return cfg
}

func defaultErrorHandler(c Context, err error) error {
	status := router.StatusForbidden
	code := "CSRF_TOKEN_MISMATCH"
	switch {
	case errors.Is(err, ErrTokenMissing):
		code = "CSRF_TOKEN_MISSING"
	case errors.Is(err, ErrTokenExpired):
		code = "CSRF_TOKEN_EXPIRED"
	case errors.Is(err, ErrTokenMismatch):
	default:
		status = router.StatusInternalServerError
		code = "CSRF_ERROR"
	}
	return c.JSON(status, map[string]any{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}
