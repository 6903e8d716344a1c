package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-budget-auth"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "PORTAL_"

// Plan store backends.
const (
	StoreSQL     = "sql"
	StoreBackend = "backend"
	StoreMemory  = "memory"
)

var _ auth.Config = Settings{}

// Settings is the process configuration, read once at startup.
type Settings struct {
	SigningKey  string        `env:"SIGNING_KEY,required,notEmpty"`
	Issuer      string        `env:"ISSUER" envDefault:"budget-portal"`
	ClockSkew   time.Duration `env:"CLOCK_SKEW" envDefault:"300s"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	RememberTTL time.Duration `env:"REMEMBER_TTL" envDefault:"168h"`
	RefreshTTL  time.Duration `env:"REFRESH_TTL" envDefault:"720h"`

	CookieSecure   bool   `env:"COOKIE_SECURE" envDefault:"true"`
	CookieSameSite string `env:"COOKIE_SAMESITE" envDefault:"lax"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
	CSRFProtect    bool   `env:"CSRF_PROTECT" envDefault:"true"`

	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	UpstreamURL     string        `env:"UPSTREAM_URL,required"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	PlanStore      string        `env:"PLAN_STORE" envDefault:"sql"`
	DatabaseDSN    string        `env:"DATABASE_DSN" envDefault:"file:portal.db?cache=shared"`
	BackendURL     string        `env:"BACKEND_URL"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"15s"`

	PolicyFile string `env:"POLICY_FILE"`

	LoginAttemptsPerMinute float64 `env:"LOGIN_ATTEMPTS_PER_MINUTE" envDefault:"5"`
	LoginBurst             int     `env:"LOGIN_BURST" envDefault:"5"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	Debug        bool   `env:"DEBUG"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads settings from the process environment and validates them.
func Load() (Settings, error) {
	return LoadFrom(nil)
}

// LoadFrom reads settings from environ instead of the process environment
// when environ is not nil. Keys carry the PORTAL_ prefix.
func LoadFrom(environ map[string]string) (Settings, error) {
	var s Settings
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}

	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// Validate checks cross field constraints the env tags cannot express.
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&s.UpstreamURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&s.ClockSkew, validation.Min(time.Duration(0))),
		validation.Field(&s.SessionTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&s.RememberTTL, validation.Required, validation.Min(s.SessionTTL)),
		validation.Field(&s.RefreshTTL, validation.Required, validation.Min(s.RememberTTL)),
		validation.Field(&s.CookieSameSite, validation.In("lax", "strict", "none", "Lax", "Strict", "None")),
		validation.Field(&s.PlanStore, validation.In(StoreSQL, StoreBackend, StoreMemory)),
		validation.Field(&s.DatabaseDSN, requiredWhen(s.PlanStore == StoreSQL)),
		validation.Field(&s.BackendURL, requiredWhen(s.PlanStore == StoreBackend), validation.By(absoluteURL)),
		validation.Field(&s.LoginAttemptsPerMinute, validation.Min(0.0)),
		validation.Field(&s.LoginBurst, validation.Min(1)),
	)
}

// IsPostgres reports whether DatabaseDSN points at postgres.
func (s Settings) IsPostgres() bool {
	dsn := strings.ToLower(s.DatabaseDSN)
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (s Settings) GetSigningKey() string         { return s.SigningKey }
func (s Settings) GetIssuer() string             { return s.Issuer }
func (s Settings) GetClockSkew() time.Duration   { return s.ClockSkew }
func (s Settings) GetSessionTTL() time.Duration  { return s.SessionTTL }
func (s Settings) GetRememberTTL() time.Duration { return s.RememberTTL }
func (s Settings) GetRefreshTTL() time.Duration  { return s.RefreshTTL }
func (s Settings) GetCookieSecure() bool         { return s.CookieSecure }
func (s Settings) GetCookieSameSite() string     { return s.CookieSameSite }
func (s Settings) GetCookieDomain() string       { return s.CookieDomain }

func requiredWhen(cond bool) validation.Rule {
	if cond {
		return validation.Required
	}
	return validation.By(func(any) error { return nil })
}

var errNotAbsoluteURL = errors.New("must be an absolute http(s) URL")

func absoluteURL(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errNotAbsoluteURL
	}
	return nil
}
