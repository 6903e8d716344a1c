package csrf

import "github.com/goliatone/go-router"

// RouteConfig controls the token bootstrap endpoint.
type RouteConfig struct {
	Path       string
	ContextKey string
	HeaderName string
	RouteName  string
}

const (
	defaultRoutePath = "/api/csrf"
	defaultRouteName = "auth.csrf.get"
)

// RouteContext is what the token endpoint needs from a router context.
type RouteContext interface {
	Locals(key any, value ...any) any
	JSON(code int, v any) error
}

// RegisterRoutes mounts a GET endpoint returning the token the middleware
// issued for the current session.
func RegisterRoutes[T any](app router.Router[T], cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	app.Get(conf.Path, func(c router.Context) error {
		return TokenHandler(c, conf)
	}).SetName(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       defaultRoutePath,
		ContextKey: DefaultContextKey,
		HeaderName: DefaultHeaderName,
		RouteName:  defaultRouteName,
	}
	if len(cfg) == 0 {
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}
	if c.ContextKey != "" {
		conf.ContextKey = c.ContextKey
	}
	if c.HeaderName != "" {
		conf.HeaderName = c.HeaderName
	}
	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}
	return conf
}

// TokenHandler answers with the token stored under cfg.ContextKey.
func TokenHandler(c RouteContext, cfg RouteConfig) error {
	token, _ := c.Locals(cfg.ContextKey).(string)
	if token == "" {
		return c.JSON(router.StatusUnauthorized, map[string]any{
			"success": false,
			"error":   ErrTokenMissing.Error(),
			"code":    "CSRF_TOKEN_MISSING",
		})
	}

	return c.JSON(router.StatusOK, map[string]any{
		"success":     true,
		"token":       token,
		"header_name": cfg.HeaderName,
	})
}
