package auth_test

import (
	"context"
	"encoding/json"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

// fixedClock returns a controllable clock.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// fakeContext is an in memory router context.
type fakeContext struct {
	path     string
	url      string
	method   string
	headers  map[string]string
	cookies  map[string]string
	locals   map[any]any
	ctx      context.Context
	body     any
	bindErr  error
	written  []*router.Cookie
	redirect string
	status   int
	payload  any
}

func newFakeContext(method, url string) *fakeContext {
	path := url
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			path = url[:i]
			break
		}
	}
	return &fakeContext{
		path:    path,
		url:     url,
		method:  method,
		headers: map[string]string{},
		cookies: map[string]string{},
		locals:  map[any]any{},
		ctx:     context.Background(),
	}
}

func (f *fakeContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := f.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Cookie(cookie *router.Cookie) {
	f.written = append(f.written, cookie)
}

func (f *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return value[0]
	}
	return f.locals[key]
}

func (f *fakeContext) GetString(key string, def string) string {
	if v, ok := f.headers[key]; ok {
		return v
	}
	return def
}

func (f *fakeContext) Path() string        { return f.path }
func (f *fakeContext) OriginalURL() string { return f.url }
func (f *fakeContext) Method() string      { return f.method }

func (f *fakeContext) Redirect(location string, status ...int) error {
	f.redirect = location
	if len(status) > 0 {
		f.status = status[0]
	}
	return nil
}

func (f *fakeContext) Context() context.Context       { return f.ctx }
func (f *fakeContext) SetContext(ctx context.Context) { f.ctx = ctx }

func (f *fakeContext) Bind(v any) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	raw, err := json.Marshal(f.body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (f *fakeContext) JSON(code int, v any) error {
	f.status = code
	f.payload = v
	return nil
}

func (f *fakeContext) cookie(name string) *router.Cookie {
	var last *router.Cookie
	for _, c := range f.written {
		if c.Name == name {
			last = c
		}
	}
	return last
}

func (f *fakeContext) body200() map[string]any {
	m, _ := f.payload.(map[string]any)
	return m
}

// MockIdentityAPI implements auth.IdentityAPI
type MockIdentityAPI struct {
	mock.Mock
}

func (m *MockIdentityAPI) Login(ctx context.Context, username, password string) (*auth.UpstreamGrant, error) {
	args := m.Called(ctx, username, password)
	grant, _ := args.Get(0).(*auth.UpstreamGrant)
	return grant, args.Error(1)
}

func (m *MockIdentityAPI) Refresh(ctx context.Context, refreshToken string) (*auth.UpstreamGrant, error) {
	args := m.Called(ctx, refreshToken)
	grant, _ := args.Get(0).(*auth.UpstreamGrant)
	return grant, args.Error(1)
}

// recordingSink collects activity events.
type recordingSink struct {
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestCodec(clock *fixedClock) *auth.TokenCodec {
	codec, err := auth.NewTokenCodec(testSigningKey, auth.WithCodecClock(clock.Now))
	if err != nil {
		panic(err)
	}
	return codec
}

func sessionClaims(role string, level int) auth.SessionClaims {
	claims := auth.SessionClaims{
		Username:       "jdoe",
		DisplayName:    "Jane Doe",
		RoleCode:       role,
		ApprovalLevel:  level,
		OrganizationID: "org-1",
		DepartmentID:   "dep-7",
	}
	claims.Subject = "user-42"
	return claims
}

func upstreamGrant(clock *fixedClock, role string) *auth.UpstreamGrant {
	issued := clock.Now()
	expires := issued.Add(time.Hour)
	return &auth.UpstreamGrant{
		Token:        "upstream-token",
		RefreshToken: "upstream-refresh",
		Claims: auth.UpstreamClaims{
			Subject:        "user-42",
			Username:       "jdoe",
			DisplayName:    "Jane Doe",
			RoleCode:       role,
			ApprovalLevel:  1,
			OrganizationID: "org-1",
			DepartmentID:   "dep-7",
			IssuedAt:       &issued,
			ExpiresAt:      &expires,
		},
	}
}
