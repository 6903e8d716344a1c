package auth

import (
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

// Cookie names shared with the browser.
const (
	SessionCookie  = "session"
	APITokenCookie = "api_token"
	RefreshCookie  = "refresh_token"
)

// CookieWriter is the part of a router context that sets cookies.
type CookieWriter interface {
	Cookie(cookie *router.Cookie)
}

// CookieReader is the part of a router context that reads cookies.
type CookieReader interface {
	Cookies(key string, defaultValue ...string) string
}

// CookiePolicy controls the attributes of every credential cookie.
type CookiePolicy struct {
	Secure   bool
	SameSite string
	Domain   string
	Path     string
}

// CookieJar writes and clears the three credential cookies together. A
// single call always touches all three so the browser never holds a mix of
// old and new credentials.
type CookieJar struct {
	policy CookiePolicy
	now    func() time.Time
}

// NewCookieJar builds a jar. SameSite None forces Secure.
func NewCookieJar(policy CookiePolicy) *CookieJar {
	policy.SameSite = normalizeSameSite(policy.SameSite)
	if policy.SameSite == "None" {
		policy.Secure = true
	}
	if policy.Path == "" {
		policy.Path = "/"
	}
	return &CookieJar{policy: policy, now: time.Now}
}

// CookiePolicyFromConfig reads the cookie settings from cfg.
func CookiePolicyFromConfig(cfg Config) CookiePolicy {
	return CookiePolicy{
		Secure:   cfg.GetCookieSecure(),
		SameSite: cfg.GetCookieSameSite(),
		Domain:   cfg.GetCookieDomain(),
	}
}

// Policy returns the effective policy.
func (j *CookieJar) Policy() CookiePolicy {
	return j.policy
}

// Write sets session, api token and refresh cookies from bundle.
func (j *CookieJar) Write(c CookieWriter, bundle *SessionBundle) {
	if bundle == nil {
		j.Clear(c)
		return
	}
	now := j.now()
	c.Cookie(j.cookie(SessionCookie, bundle.SessionToken, now.Add(bundle.SessionTTL)))
	c.Cookie(j.cookie(APITokenCookie, bundle.APIToken, now.Add(bundle.SessionTTL)))
	c.Cookie(j.cookie(RefreshCookie, bundle.RefreshToken, now.Add(bundle.RefreshTTL)))
}

// Clear expires all three cookies. Calling it repeatedly yields the same
// headers.
func (j *CookieJar) Clear(c CookieWriter) {
	expired := time.Unix(0, 0).UTC()
	for _, name := range []string{SessionCookie, APITokenCookie, RefreshCookie} {
		c.Cookie(j.cookie(name, "", expired))
	}
}

func (j *CookieJar) cookie(name, value string, expires time.Time) *router.Cookie {
	return &router.Cookie{
		Name:     name,
		Value:    value,
		Path:     j.policy.Path,
		Domain:   j.policy.Domain,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   j.policy.Secure,
		SameSite: j.policy.SameSite,
	}
}

func normalizeSameSite(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none":
		return "None"
	case "strict":
		return "Strict"
	default:
		return "Lax"
	}
}
