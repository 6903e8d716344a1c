package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultClockSkew is the grace window applied to exp and nbf checks.
const DefaultClockSkew = 300 * time.Second

// TokenCodec signs and verifies session tokens. The key is fixed at
// construction and never read again from the environment.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	skew       time.Duration
	now        func() time.Time
	logger     Logger
}

// CodecOption customizes a TokenCodec.
type CodecOption func(*TokenCodec)

// WithCodecClock injects a custom clock (useful for tests).
func WithCodecClock(clock func() time.Time) CodecOption {
	return func(tc *TokenCodec) {
		if clock != nil {
			tc.now = clock
		}
	}
}

// WithClockSkew overrides the grace window for exp and nbf.
func WithClockSkew(skew time.Duration) CodecOption {
	return func(tc *TokenCodec) {
		if skew >= 0 {
			tc.skew = skew
		}
	}
}

// WithCodecIssuer sets the iss claim on signed tokens and requires it on verify.
func WithCodecIssuer(issuer string) CodecOption {
	return func(tc *TokenCodec) {
		tc.issuer = issuer
	}
}

// WithCodecLogger sets the logger.
func WithCodecLogger(logger Logger) CodecOption {
	return func(tc *TokenCodec) {
		if logger != nil {
			tc.logger = logger
		}
	}
}

// NewTokenCodec builds a codec. It fails when key is empty so a misconfigured
// process cannot start.
func NewTokenCodec(key []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(key) == 0 {
		return nil, ErrMissingSigningKey
	}

	tc := &TokenCodec{
		signingKey: append([]byte(nil), key...),
		skew:       DefaultClockSkew,
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}

	return tc, nil
}

// ClockSkew returns the configured grace window.
func (tc *TokenCodec) ClockSkew() time.Duration {
	return tc.skew
}

// Sign mints a token for claims valid for ttl from now.
func (tc *TokenCodec) Sign(claims SessionClaims, ttl time.Duration) (string, error) {
	token, _, err := tc.Mint(claims, ttl)
	return token, err
}

// Mint is Sign that also returns the claims as stamped into the token.
func (tc *TokenCodec) Mint(claims SessionClaims, ttl time.Duration) (string, *SessionClaims, error) {
	if ttl <= 0 {
		return "", nil, withMetadata(ErrTokenMalformed, map[string]any{"reason": "ttl must be positive"})
	}

	if err := claims.Validate(); err != nil {
		return "", nil, err
	}

	now := tc.now().Truncate(time.Second)
	claims.RoleCode = NormalizeRole(claims.RoleCode)
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.RegisteredClaims.NotBefore = jwt.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if tc.issuer != "" {
		claims.RegisteredClaims.Issuer = tc.issuer
	}
	if claims.RegisteredClaims.ID == "" {
		claims.RegisteredClaims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		tc.logger.Error("token codec failed to sign", "error", err)
		return "", nil, wrapAs(ErrTokenMalformed, err)
	}

	return signed, &claims, nil
}

// Verify checks signature, structure and time window, returning the claims.
func (tc *TokenCodec) Verify(raw string) (*SessionClaims, error) {
	claims, err := tc.parse(raw)
	if err != nil {
		return nil, err
	}

	if err := ValidateTimes(numericTime(claims.ExpiresAt), numericTime(claims.NotBefore), tc.now(), tc.skew); err != nil {
		return nil, err
	}

	if err := claims.Validate(); err != nil {
		return nil, err
	}

	return claims, nil
}

// Inspect checks signature and issuer but not the time window. Only use it
// to read preferences from a session that may have expired, never to
// authenticate.
func (tc *TokenCodec) Inspect(raw string) (*SessionClaims, error) {
	return tc.parse(raw)
}

func (tc *TokenCodec) parse(raw string) (*SessionClaims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	// time based claims are checked below with our own clock and skew
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &SessionClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tc.signingKey, nil
	})
	if err != nil || token == nil || !token.Valid {
		tc.logger.Debug("token codec rejected token", "error", err)
		return nil, wrapAs(ErrTokenMalformed, err)
	}

	if tc.issuer != "" && claims.Issuer != tc.issuer {
		return nil, withMetadata(ErrTokenMalformed, map[string]any{"claim": "iss"})
	}

	if claims.ExpiresAt == nil {
		return nil, withMetadata(ErrTokenMalformed, map[string]any{"claim": "exp"})
	}

	return claims, nil
}

// ValidateTimes applies the grace window to exp and nbf. A nil bound is
// not checked.
func ValidateTimes(expiresAt, notBefore *time.Time, now time.Time, skew time.Duration) error {
	if expiresAt != nil && now.After(expiresAt.Add(skew)) {
		return withMetadata(ErrTokenExpired, map[string]any{
			"expired_at": expiresAt.UTC().Format(time.RFC3339),
		})
	}

	if notBefore != nil && now.Before(notBefore.Add(-skew)) {
		return withMetadata(ErrTokenNotYetValid, map[string]any{
			"not_before": notBefore.UTC().Format(time.RFC3339),
		})
	}

	return nil
}

func numericTime(d *jwt.NumericDate) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}
