package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-budget-auth/routes"
	"github.com/goliatone/go-router"
)

// Outcome is the gateway verdict for a single request.
type Outcome int

const (
	// OutcomeRedirectLoginClear is the zero value so an unset decision
	// never lets a request through.
	OutcomeRedirectLoginClear Outcome = iota
	OutcomeAllow
	OutcomeRedirectLogin
	OutcomeRedirectForbidden
	OutcomeRedirectHome
	OutcomeForward
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeRedirectLogin:
		return "redirect_login"
	case OutcomeRedirectForbidden:
		return "redirect_forbidden"
	case OutcomeRedirectHome:
		return "redirect_home"
	case OutcomeForward:
		return "forward"
	default:
		return "redirect_login_clear"
	}
}

// Request is the input to Gateway.Decide.
type Request struct {
	Path     string
	RawQuery string
	Token    string
}

// Decision is the gateway verdict plus what is needed to carry it out.
type Decision struct {
	Outcome    Outcome
	Location   string
	Identity   Identity
	Resolution routes.Resolution
	Zone       routes.Zone
	Err        error
}

// Redirects reports whether the decision ends in a redirect.
func (d Decision) Redirects() bool {
	return d.Outcome != OutcomeAllow && d.Outcome != OutcomeForward
}

// ClearsCookies reports whether credentials must be dropped.
func (d Decision) ClearsCookies() bool {
	return d.Outcome == OutcomeRedirectLoginClear
}

// GatewayObserver records gateway outcomes.
type GatewayObserver interface {
	ObserveDecision(outcome string)
}

// TokenExtractor pulls a raw session token from a request.
type TokenExtractor func(c GatewayContext) string

// FromCookie reads the token from a cookie.
func FromCookie(name string) TokenExtractor {
	return func(c GatewayContext) string {
		return c.Cookies(name)
	}
}

// FromAuthHeader reads a "Bearer <token>" Authorization header.
func FromAuthHeader(scheme string) TokenExtractor {
	scheme = strings.TrimSpace(scheme)
	return func(c GatewayContext) string {
		value := c.GetString(router.HeaderAuthorization, "")
		l := len(scheme)
		if l == 0 || len(value) <= l+1 || !strings.EqualFold(value[:l], scheme) || value[l] != ' ' {
			return ""
		}
		return strings.TrimSpace(value[l:])
	}
}

// GatewayContext is the part of router.Context the gateway needs.
type GatewayContext interface {
	CookieReader
	CookieWriter
	Locals(key any, value ...any) any
	GetString(key string, def string) string
	Path() string
	OriginalURL() string
	Method() string
	Redirect(location string, status ...int) error
	Context() context.Context
	SetContext(context.Context)
}

// Gateway decides, per request, whether to let it through, forward it with
// an identity or redirect it.
type Gateway struct {
	codec        *TokenCodec
	policy       *routes.Policy
	jar          *CookieJar
	extractors   []TokenExtractor
	logger       Logger
	activitySink ActivitySink
	metrics      GatewayObserver
}

// GatewayOption customizes the gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayCookieJar sets the jar used to clear cookies.
func WithGatewayCookieJar(jar *CookieJar) GatewayOption {
	return func(g *Gateway) {
		if jar != nil {
			g.jar = jar
		}
	}
}

// WithTokenExtractors replaces the token lookup order.
func WithTokenExtractors(extractors ...TokenExtractor) GatewayOption {
	return func(g *Gateway) {
		if len(extractors) > 0 {
			g.extractors = extractors
		}
	}
}

// WithGatewayActivitySink receives route denial events.
func WithGatewayActivitySink(sink ActivitySink) GatewayOption {
	return func(g *Gateway) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// WithGatewayMetrics sets the decision observer.
func WithGatewayMetrics(m GatewayObserver) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway builds a gateway. The session cookie is read first, then a
// bearer Authorization header.
func NewGateway(codec *TokenCodec, policy *routes.Policy, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		codec:  codec,
		policy: policy,
		jar:    NewCookieJar(CookiePolicy{}),
		extractors: []TokenExtractor{
			FromCookie(SessionCookie),
			FromAuthHeader("Bearer"),
		},
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// Decide evaluates a request without side effects. Any internal fault
// yields OutcomeRedirectLoginClear.
func (g *Gateway) Decide(req Request) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			decision = g.failClosed(req, fmt.Errorf("panic: %v", r))
		}
	}()

	if g == nil || g.codec == nil || g.policy == nil {
		return g.failClosed(req, fmt.Errorf("gateway is not configured"))
	}

	res := g.policy.Resolve(req.Path)
	decision.Resolution = res

	if res.Class == routes.Public {
		decision.Outcome = OutcomeAllow
		if req.Token != "" && g.policy.IsAuthPage(res.Logical) {
			if claims, err := g.codec.Verify(req.Token); err == nil {
				decision.Outcome = OutcomeRedirectHome
				decision.Identity = claims.Identity()
				decision.Location = routes.WithLocale(g.policy.HomeFor(claims.Role()), res.Locale)
			}
		}
		return decision
	}

	if req.Token == "" {
		decision.Outcome = OutcomeRedirectLogin
		decision.Err = ErrMissingToken
		decision.Location = g.loginLocation(res, req.RawQuery)
		return decision
	}

	claims, err := g.codec.Verify(req.Token)
	if err != nil {
		decision.Outcome = OutcomeRedirectLoginClear
		decision.Err = err
		decision.Location = g.loginLocation(res, req.RawQuery)
		return decision
	}

	identity := claims.Identity()
	decision.Identity = identity

	zone, matched, allowed := g.policy.Authorize(res.Logical, identity.RoleCode)
	decision.Zone = zone
	if !allowed {
		decision.Outcome = OutcomeRedirectForbidden
		decision.Err = withMetadata(ErrRouteDenied, map[string]any{
			"path":   res.Logical,
			"role":   identity.RoleCode,
			"zone":   zone.Prefix,
			"zoned":  matched,
			"sub":    identity.SubjectID,
			"locale": res.Locale,
		})
		decision.Location = routes.WithLocale(g.policy.ForbiddenPath(), res.Locale)
		return decision
	}

	decision.Outcome = OutcomeForward
	return decision
}

// Middleware adapts the gateway to go-router.
func (g *Gateway) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			return g.Handle(c, func() error { return next(c) })
		}
	}
}

// Handle applies the decision for c and calls next when the request may
// proceed.
func (g *Gateway) Handle(c GatewayContext, next func() error) error {
	req := g.request(c)
	decision := g.Decide(req)

	if g.metrics != nil {
		g.metrics.ObserveDecision(decision.Outcome.String())
	}

	switch decision.Outcome {
	case OutcomeAllow:
		return next()
	case OutcomeForward:
		c.Locals(IdentityLocalsKey, decision.Identity)
		ctx := WithIdentity(c.Context(), decision.Identity)
		if apiToken := c.Cookies(APITokenCookie); apiToken != "" {
			ctx = WithAPIToken(ctx, apiToken)
		}
		c.SetContext(ctx)
		return next()
	case OutcomeRedirectForbidden:
		g.logger.Info("gateway route denied", "path", decision.Resolution.Logical, "role", decision.Identity.RoleCode)
		g.emitDenied(c.Context(), decision)
	case OutcomeRedirectLoginClear:
		g.logger.Debug("gateway clearing session", "path", req.Path, "error", decision.Err)
		g.jar.Clear(c)
	}

	return c.Redirect(decision.Location, redirectStatus(c.Method()))
}

func (g *Gateway) request(c GatewayContext) (req Request) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("gateway failed to read request", "panic", r)
			req.Token = ""
		}
	}()

	req.Path = c.Path()
	if _, query, ok := strings.Cut(c.OriginalURL(), "?"); ok {
		req.RawQuery = query
	}
	for _, extract := range g.extractors {
		if token := extract(c); token != "" {
			req.Token = token
			break
		}
	}
	return req
}

func (g *Gateway) failClosed(req Request, cause error) Decision {
	decision := Decision{
		Outcome:  OutcomeRedirectLoginClear,
		Err:      wrapAs(ErrGatewayFailure, cause),
		Location: "/login",
	}
	if g != nil && g.policy != nil {
		decision.Location = g.policy.LoginPath()
	}
	if g != nil && g.logger != nil {
		g.logger.Error("gateway failed closed", "path", req.Path, "error", cause)
	}
	return decision
}

func (g *Gateway) loginLocation(res routes.Resolution, rawQuery string) string {
	destination := routes.WithLocale(res.Logical, res.Locale)
	if rawQuery != "" {
		destination += "?" + rawQuery
	}
	return loginURL(routes.WithLocale(g.policy.LoginPath(), res.Locale), destination)
}

func (g *Gateway) emitDenied(ctx context.Context, decision Decision) {
	if ctx == nil {
		ctx = context.Background()
	}
	event := ActivityEvent{
		EventType:  ActivityEventRouteDenied,
		Actor:      ActorRef{ID: decision.Identity.SubjectID, Type: "user"},
		UserID:     decision.Identity.SubjectID,
		OccurredAt: time.Now(),
		Metadata: map[string]any{
			"path": decision.Resolution.Logical,
			"role": decision.Identity.RoleCode,
			"zone": decision.Zone.Prefix,
		},
	}
	if err := normalizeActivitySink(g.activitySink).Record(ctx, event); err != nil {
		g.logger.Warn("activity sink record error", "error", err)
	}
}

// redirectStatus keeps GET as GET and turns form posts into a GET.
func redirectStatus(method string) int {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, "":
		return http.StatusFound
	default:
		return http.StatusSeeOther
	}
}
