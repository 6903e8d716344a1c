package config_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-budget-auth/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"PORTAL_SIGNING_KEY":  "0123456789abcdef0123",
		"PORTAL_UPSTREAM_URL": "https://api.example.test",
	}
}

func with(env map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(env)+len(kv)/2)
	for k, v := range env {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func TestLoadFrom_Defaults(t *testing.T) {
	s, err := config.LoadFrom(baseEnv())
	require.NoError(t, err)

	assert.Equal(t, "budget-portal", s.Issuer)
	assert.Equal(t, 5*time.Minute, s.ClockSkew)
	assert.Equal(t, time.Hour, s.SessionTTL)
	assert.Equal(t, 7*24*time.Hour, s.RememberTTL)
	assert.Equal(t, 30*24*time.Hour, s.RefreshTTL)
	assert.True(t, s.CookieSecure)
	assert.Equal(t, "lax", s.CookieSameSite)
	assert.True(t, s.CSRFProtect)
	assert.Equal(t, ":8080", s.ListenAddr)
	assert.Equal(t, config.StoreSQL, s.PlanStore)
	assert.Equal(t, 10*time.Second, s.UpstreamTimeout)
	assert.Equal(t, 5, s.LoginBurst)
	assert.False(t, s.IsPostgres())
}

func TestLoadFrom_ConfigGetters(t *testing.T) {
	s, err := config.LoadFrom(with(baseEnv(),
		"PORTAL_ISSUER", "portal-test",
		"PORTAL_COOKIE_SECURE", "false",
		"PORTAL_COOKIE_DOMAIN", "portal.example.test",
		"PORTAL_SESSION_TTL", "30m",
	))
	require.NoError(t, err)

	assert.Equal(t, "0123456789abcdef0123", s.GetSigningKey())
	assert.Equal(t, "portal-test", s.GetIssuer())
	assert.Equal(t, 30*time.Minute, s.GetSessionTTL())
	assert.False(t, s.GetCookieSecure())
	assert.Equal(t, "portal.example.test", s.GetCookieDomain())
	assert.Equal(t, s.RememberTTL, s.GetRememberTTL())
	assert.Equal(t, s.RefreshTTL, s.GetRefreshTTL())
	assert.Equal(t, s.ClockSkew, s.GetClockSkew())
	assert.Equal(t, "lax", s.GetCookieSameSite())
}

func TestLoadFrom_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing signing key", map[string]string{"PORTAL_UPSTREAM_URL": "https://api.example.test"}},
		{"missing upstream", map[string]string{"PORTAL_SIGNING_KEY": "0123456789abcdef0123"}},
		{"short signing key", with(baseEnv(), "PORTAL_SIGNING_KEY", "short")},
		{"relative upstream", with(baseEnv(), "PORTAL_UPSTREAM_URL", "/api")},
		{"bad duration", with(baseEnv(), "PORTAL_SESSION_TTL", "soon")},
		{"remember shorter than session", with(baseEnv(), "PORTAL_SESSION_TTL", "2h", "PORTAL_REMEMBER_TTL", "1h")},
		{"unknown same site", with(baseEnv(), "PORTAL_COOKIE_SAMESITE", "sometimes")},
		{"unknown store", with(baseEnv(), "PORTAL_PLAN_STORE", "redis")},
		{"backend store without url", with(baseEnv(), "PORTAL_PLAN_STORE", "backend")},
		{"zero burst", with(baseEnv(), "PORTAL_LOGIN_BURST", "0")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFrom(tt.env)
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_BackendStore(t *testing.T) {
	s, err := config.LoadFrom(with(baseEnv(),
		"PORTAL_PLAN_STORE", "backend",
		"PORTAL_BACKEND_URL", "http://backend.internal:8000",
	))
	require.NoError(t, err)
	assert.Equal(t, config.StoreBackend, s.PlanStore)
	assert.Equal(t, 15*time.Second, s.BackendTimeout)
}

func TestSettings_IsPostgres(t *testing.T) {
	assert.True(t, config.Settings{DatabaseDSN: "postgres://u:p@db/portal"}.IsPostgres())
	assert.True(t, config.Settings{DatabaseDSN: "PostgreSQL://db/portal"}.IsPostgres())
	assert.False(t, config.Settings{DatabaseDSN: "file:portal.db"}.IsPostgres())
}
