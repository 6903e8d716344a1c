package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-budget-auth/routes"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// SessionContext is the part of router.Context the session endpoints use.
type SessionContext interface {
	GatewayContext
	Bind(v any) error
	JSON(code int, v any) error
}

// RegisterSessionRoutes mounts login, refresh and logout on app.
func RegisterSessionRoutes[T any](app router.Router[T], controller *SessionController) {
	paths := controller.Routes

	app.Post(paths.Login, func(c router.Context) error {
		return controller.Login(c)
	}).SetName("session.login")

	app.Post(paths.Refresh, func(c router.Context) error {
		return controller.Refresh(c)
	}).SetName("session.refresh")

	app.Get(paths.Logout, func(c router.Context) error {
		return controller.Logout(c)
	}).SetName("session.logout.get")

	app.Post(paths.Logout, func(c router.Context) error {
		return controller.Logout(c)
	}).SetName("session.logout.post")
}

// SessionControllerRoutes holds the endpoint paths.
type SessionControllerRoutes struct {
	Login   string
	Refresh string
	Logout  string
}

// SessionController serves the JSON session endpoints.
type SessionController struct {
	Debug   bool
	Logger  Logger
	Routes  *SessionControllerRoutes
	Service *SessionService
	Jar     *CookieJar
	Policy  *routes.Policy
	Limiter *LoginLimiter
}

// SessionControllerOption customizes the controller.
type SessionControllerOption func(*SessionController) *SessionController

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerDebug dumps login payloads (password redacted).
func WithControllerDebug(debug bool) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Debug = debug
		return c
	}
}

// WithControllerLimiter sets the login throttle.
func WithControllerLimiter(limiter *LoginLimiter) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Limiter = limiter
		return c
	}
}

// WithControllerRoutes overrides the endpoint paths.
func WithControllerRoutes(r SessionControllerRoutes) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if r.Login != "" {
			c.Routes.Login = r.Login
		}
		if r.Refresh != "" {
			c.Routes.Refresh = r.Refresh
		}
		if r.Logout != "" {
			c.Routes.Logout = r.Logout
		}
		return c
	}
}

// NewSessionController builds the controller. It panics when a required
// collaborator is missing.
func NewSessionController(service *SessionService, jar *CookieJar, policy *routes.Policy, opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Logger: defLogger{},
		Routes: &SessionControllerRoutes{
			Login:   "/auth/login",
			Refresh: "/auth/refresh",
			Logout:  "/auth/logout",
		},
		Service: service,
		Jar:     jar,
		Policy:  policy,
		Limiter: NewLoginLimiter(rate.Every(12*time.Second), 5),
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	if c.Service == nil {
		panic("Missing SessionService in session controller...")
	}

	if c.Jar == nil {
		panic("Missing CookieJar in session controller...")
	}

	if c.Policy == nil {
		panic("Missing route Policy in session controller...")
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Username   string `form:"username" json:"username"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
	Redirect   string `form:"redirect" json:"redirect"`
	Locale     string `form:"locale" json:"locale"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
			validation.Length(1, 254),
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(1, 1024),
		),
	)
}

// Login exchanges credentials for a session and writes the three cookies.
func (a *SessionController) Login(ctx SessionContext) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":   "invalid request body",
			"details": err.Error(),
		})
	}

	payload.Username = strings.TrimSpace(payload.Username)

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "validation failed",
			"validation": err,
		})
	}

	if a.Debug {
		redacted := *payload
		redacted.Password = "********"
		a.Logger.Debug("session login payload", "payload", print.MaybePrettyJSON(redacted))
	}

	if a.Limiter != nil && !a.Limiter.Allow(payload.Username) {
		return a.errorJSON(ctx, withMetadata(ErrTooManyAttempts, map[string]any{"username": payload.Username}))
	}

	bundle, err := a.Service.Login(requestContext(ctx), payload.Username, payload.Password, payload.RememberMe)
	if err != nil {
		return a.errorJSON(ctx, err)
	}

	a.Jar.Write(ctx, bundle)

	identity := bundle.Claims.Identity()
	home := routes.WithLocale(a.Policy.HomeFor(identity.RoleCode), a.locale(payload.Locale))

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":    true,
		"redirect":   RedirectOrDefault(payload.Redirect, home),
		"identity":   identity,
		"expires_at": bundle.Claims.Expires().UTC().Format(time.RFC3339),
	})
}

// Refresh rotates all credentials. Any failure clears the three cookies. An
// unreachable identity service still answers 502 with retryable set so the
// client knows a fresh login may succeed.
func (a *SessionController) Refresh(ctx SessionContext) error {
	remember := a.Service.Remembered(ctx.Cookies(SessionCookie))
	bundle, err := a.Service.Refresh(requestContext(ctx), ctx.Cookies(RefreshCookie), WithRemember(remember))
	if err != nil {
		a.Jar.Clear(ctx)
		return a.errorJSON(ctx, err)
	}

	a.Jar.Write(ctx, bundle)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":    true,
		"identity":   bundle.Claims.Identity(),
		"expires_at": bundle.Claims.Expires().UTC().Format(time.RFC3339),
	})
}

// Logout clears the cookies. It always succeeds.
func (a *SessionController) Logout(ctx SessionContext) error {
	identity, _ := IdentityFromRouter(ctx)
	a.Service.Logout(requestContext(ctx), identity)
	a.Jar.Clear(ctx)

	if strings.EqualFold(ctx.Method(), http.MethodGet) {
		return ctx.Redirect(a.Policy.LoginPath(), router.StatusSeeOther)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// errorJSON reports err without distinguishing unknown users from wrong
// passwords.
func (a *SessionController) errorJSON(ctx SessionContext, err error) error {
	status := HTTPStatus(err)
	code := TextCode(err)

	if IsAuthError(err) {
		status = http.StatusUnauthorized
	}

	a.Logger.Info("session request failed", "path", ctx.Path(), "code", code, "status", status)

	body := map[string]any{
		"success":   false,
		"error":     publicMessage(code),
		"code":      code,
		"retryable": IsRetryable(err),
	}

	return ctx.JSON(status, body)
}

func (a *SessionController) locale(requested string) string {
	if requested == "" {
		return ""
	}
	canonical, err := routes.CanonicalLocale(requested)
	if err != nil {
		return ""
	}
	for _, l := range a.Policy.Locales() {
		if l == canonical {
			return l
		}
	}
	return ""
}

func publicMessage(code string) string {
	switch code {
	case TextCodeUpstreamUnavailable:
		return "authentication service unavailable, try again"
	case TextCodeTooManyAttempts:
		return "too many attempts, try again later"
	case "":
		return "internal error"
	default:
		return "authentication failed"
	}
}

func requestContext(ctx SessionContext) context.Context {
	if c := ctx.Context(); c != nil {
		return c
	}
	return context.Background()
}

// LoginLimiter throttles login attempts per username.
type LoginLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	maxKeys  int
	limiters map[string]*rate.Limiter
}

// NewLoginLimiter allows burst attempts per username refilled at limit.
func NewLoginLimiter(limit rate.Limit, burst int) *LoginLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &LoginLimiter{
		limit:    limit,
		burst:    burst,
		maxKeys:  10000,
		limiters: map[string]*rate.Limiter{},
	}
}

// Allow reports whether another attempt for username may go ahead.
func (l *LoginLimiter) Allow(username string) bool {
	key := strings.ToLower(strings.TrimSpace(username))

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxKeys {
			l.limiters = map[string]*rate.Limiter{}
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
