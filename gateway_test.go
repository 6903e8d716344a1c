package auth_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/routes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decisionCounter struct {
	outcomes []string
}

func (c *decisionCounter) ObserveDecision(outcome string) {
	c.outcomes = append(c.outcomes, outcome)
}

func signed(t *testing.T, codec *auth.TokenCodec, role string, level int) string {
	t.Helper()
	token, err := codec.Sign(sessionClaims(role, level), time.Hour)
	require.NoError(t, err)
	return token
}

func TestGatewayDecide(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(clock)
	gw := auth.NewGateway(codec, routes.DefaultPolicy())

	hr := signed(t, codec, "hr", 0)
	director := signed(t, codec, "director", 2)

	otherCodec, err := auth.NewTokenCodec([]byte("rotated-key"), auth.WithCodecClock(clock.Now))
	require.NoError(t, err)
	forged := signed(t, otherCodec, "admin", 0)

	tests := []struct {
		name     string
		req      auth.Request
		outcome  auth.Outcome
		location string
	}{
		{"public page", auth.Request{Path: "/forgot-password"}, auth.OutcomeAllow, ""},
		{"public page with session", auth.Request{Path: "/assets/app.css", Token: hr}, auth.OutcomeAllow, ""},
		{"auth page with session goes home", auth.Request{Path: "/ru/login", Token: director}, auth.OutcomeRedirectHome, "/ru/approvals"},
		{"auth page with bad session", auth.Request{Path: "/login", Token: forged}, auth.OutcomeAllow, ""},
		{"protected without token", auth.Request{Path: "/organizer/projects", RawQuery: "page=2"}, auth.OutcomeRedirectLogin,
			"/login?redirect=" + url.QueryEscape("/organizer/projects?page=2")},
		{"protected with locale", auth.Request{Path: "/kk/reports"}, auth.OutcomeRedirectLogin,
			"/kk/login?redirect=" + url.QueryEscape("/kk/reports")},
		{"forged token", auth.Request{Path: "/dashboard", Token: forged}, auth.OutcomeRedirectLoginClear,
			"/login?redirect=" + url.QueryEscape("/dashboard")},
		{"role denied", auth.Request{Path: "/organizer/department/3", Token: hr}, auth.OutcomeRedirectForbidden, "/forbidden"},
		{"role denied keeps locale", auth.Request{Path: "/en/admin", Token: director}, auth.OutcomeRedirectForbidden, "/en/forbidden"},
		{"role allowed", auth.Request{Path: "/organizer/projects", Token: hr}, auth.OutcomeForward, ""},
		{"unzoned path", auth.Request{Path: "/dashboard", Token: hr}, auth.OutcomeForward, ""},
		{"dot segments", auth.Request{Path: "/organizer/../admin", Token: hr}, auth.OutcomeRedirectForbidden, "/forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gw.Decide(tt.req)
			assert.Equal(t, tt.outcome, d.Outcome, "outcome %s", d.Outcome)
			assert.Equal(t, tt.location, d.Location)
		})
	}
}

func TestGatewayDecideExpiredSessionClears(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(clock)
	gw := auth.NewGateway(codec, routes.DefaultPolicy())

	token := signed(t, codec, "planning", 1)
	clock.Advance(time.Hour + 301*time.Second)

	d := gw.Decide(auth.Request{Path: "/approvals", Token: token})
	assert.Equal(t, auth.OutcomeRedirectLoginClear, d.Outcome)
	assert.True(t, d.ClearsCookies())
	assert.True(t, auth.HasTextCode(d.Err, auth.TextCodeTokenExpired))
}

func TestGatewayDecideFailsClosed(t *testing.T) {
	codec := newTestCodec(newClock())

	d := auth.NewGateway(nil, routes.DefaultPolicy()).Decide(auth.Request{Path: "/admin", Token: "x"})
	assert.Equal(t, auth.OutcomeRedirectLoginClear, d.Outcome)
	assert.True(t, auth.HasTextCode(d.Err, auth.TextCodeGatewayFailure))

	d = auth.NewGateway(codec, nil).Decide(auth.Request{Path: "/admin"})
	assert.Equal(t, auth.OutcomeRedirectLoginClear, d.Outcome)
	assert.Equal(t, "/login", d.Location)

	var zero auth.Decision
	assert.Equal(t, auth.OutcomeRedirectLoginClear, zero.Outcome)
	assert.True(t, zero.Redirects())
}

func TestGatewayHandleForward(t *testing.T) {
	clock := newClock()
	codec := newTestCodec(clock)
	metrics := &decisionCounter{}
	gw := auth.NewGateway(codec, routes.DefaultPolicy(), auth.WithGatewayMetrics(metrics))

	c := newFakeContext(http.MethodGet, "/approvals/12")
	c.cookies[auth.SessionCookie] = signed(t, codec, "planning", 1)
	c.cookies[auth.APITokenCookie] = "upstream-token"

	called := false
	err := gw.Handle(c, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	identity, ok := auth.IdentityFromRouter(c)
	require.True(t, ok)
	assert.Equal(t, "user-42", identity.SubjectID)
	assert.Equal(t, "planning", identity.RoleCode)
	assert.Equal(t, "org-1", identity.OrganizationID)
	assert.Equal(t, "dep-7", identity.DepartmentID)

	fromCtx, ok := auth.IdentityFromContext(c.Context())
	require.True(t, ok)
	assert.Equal(t, identity, fromCtx)

	apiToken, ok := auth.APITokenFromContext(c.Context())
	require.True(t, ok)
	assert.Equal(t, "upstream-token", apiToken)

	assert.Empty(t, c.written)
	assert.Equal(t, []string{"forward"}, metrics.outcomes)
}

func TestGatewayHandleIgnoresClientIdentityHeaders(t *testing.T) {
	gw := auth.NewGateway(newTestCodec(newClock()), routes.DefaultPolicy())

	c := newFakeContext(http.MethodGet, "/admin")
	c.headers["X-User-Id"] = "user-1"
	c.headers["X-User-Role"] = "admin"

	called := false
	err := gw.Handle(c, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, http.StatusFound, c.status)
	assert.Equal(t, "/login?redirect=%2Fadmin", c.redirect)

	_, ok := auth.IdentityFromRouter(c)
	assert.False(t, ok)
}

func TestGatewayHandleBearerHeader(t *testing.T) {
	codec := newTestCodec(newClock())
	gw := auth.NewGateway(codec, routes.DefaultPolicy())

	c := newFakeContext(http.MethodGet, "/admin/users")
	c.headers["Authorization"] = "Bearer " + signed(t, codec, "admin", 0)

	called := false
	require.NoError(t, gw.Handle(c, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestGatewayHandleInvalidTokenClearsCookies(t *testing.T) {
	gw := auth.NewGateway(newTestCodec(newClock()), routes.DefaultPolicy())

	c := newFakeContext(http.MethodPost, "/approvals/12/actions")
	c.cookies[auth.SessionCookie] = "garbage"

	called := false
	require.NoError(t, gw.Handle(c, func() error {
		called = true
		return nil
	}))

	assert.False(t, called)
	assert.Equal(t, http.StatusSeeOther, c.status)
	require.Len(t, c.written, 3)
	for _, ck := range c.written {
		assert.Empty(t, ck.Value)
	}
}

func TestGatewayHandleRouteDeniedKeepsCookies(t *testing.T) {
	codec := newTestCodec(newClock())
	sink := &recordingSink{}
	gw := auth.NewGateway(codec, routes.DefaultPolicy(), auth.WithGatewayActivitySink(sink))

	c := newFakeContext(http.MethodGet, "/organizer/roles")
	c.cookies[auth.SessionCookie] = signed(t, codec, "director", 2)

	require.NoError(t, gw.Handle(c, func() error { return nil }))

	assert.Equal(t, "/forbidden", c.redirect)
	assert.Empty(t, c.written)
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventRouteDenied}, sink.types())
}

func TestGatewayMiddlewareIsRouterCompatible(t *testing.T) {
	gw := auth.NewGateway(newTestCodec(newClock()), routes.DefaultPolicy())
	assert.NotNil(t, gw.Middleware())
}

func TestIdentityFromContextEmpty(t *testing.T) {
	_, ok := auth.IdentityFromContext(context.Background())
	assert.False(t, ok)
}

func TestFromAuthHeader(t *testing.T) {
	extract := auth.FromAuthHeader("Bearer")

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer token", "Bearer abc.def", "abc.def"},
		{"scheme is case insensitive", "bearer abc", "abc"},
		{"extra spaces trimmed", "Bearer   abc  ", "abc"},
		{"scheme glued to token", "Bearerabc", ""},
		{"other scheme", "Basic abc", ""},
		{"scheme only", "Bearer ", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeContext(http.MethodGet, "/plans")
			if tt.header != "" {
				c.headers["Authorization"] = tt.header
			}
			assert.Equal(t, tt.want, extract(c))
		})
	}
}
