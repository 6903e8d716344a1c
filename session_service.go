package auth

import (
	"context"
	"time"
)

// Session lifetimes.
const (
	DefaultSessionTTL  = time.Hour
	DefaultRememberTTL = 7 * 24 * time.Hour
	DefaultRefreshTTL  = 30 * 24 * time.Hour
)

// SessionBundle is the full credential set written to the browser at once.
type SessionBundle struct {
	SessionToken string
	APIToken     string
	RefreshToken string
	SessionTTL   time.Duration
	RefreshTTL   time.Duration
	Claims       SessionClaims
}

// SessionService exchanges upstream credentials for session tokens.
type SessionService struct {
	codec        *TokenCodec
	upstream     IdentityAPI
	sessionTTL   time.Duration
	rememberTTL  time.Duration
	refreshTTL   time.Duration
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
	metrics      LoginObserver
}

// LoginObserver records login and refresh outcomes.
type LoginObserver interface {
	ObserveLogin(operation, result string)
}

// SessionServiceOption customizes the service.
type SessionServiceOption func(*SessionService)

// WithSessionTTLs overrides the default lifetimes. Zero values keep defaults.
func WithSessionTTLs(session, remember, refresh time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		if session > 0 {
			s.sessionTTL = session
		}
		if remember > 0 {
			s.rememberTTL = remember
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionServiceOption {
	return func(s *SessionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger Logger) SessionServiceOption {
	return func(s *SessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionActivitySink sets the sink receiving login, refresh and logout events.
func WithSessionActivitySink(sink ActivitySink) SessionServiceOption {
	return func(s *SessionService) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionMetrics sets the login observer.
func WithSessionMetrics(m LoginObserver) SessionServiceOption {
	return func(s *SessionService) {
		s.metrics = m
	}
}

// NewSessionService wires the codec with the upstream identity API.
func NewSessionService(codec *TokenCodec, upstream IdentityAPI, opts ...SessionServiceOption) *SessionService {
	s := &SessionService{
		codec:        codec,
		upstream:     upstream,
		sessionTTL:   DefaultSessionTTL,
		rememberTTL:  DefaultRememberTTL,
		refreshTTL:   DefaultRefreshTTL,
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Login authenticates against the identity API and mints a session.
func (s *SessionService) Login(ctx context.Context, username, password string, remember bool) (*SessionBundle, error) {
	grant, err := s.upstream.Login(ctx, username, password)
	if err != nil {
		s.logger.Warn("session login upstream error", "error", err)
		s.observe("login", err)
		s.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, map[string]any{
			"username": username,
			"error":    TextCode(err),
		})
		return nil, s.normalizeUpstreamError(err)
	}

	ttl := s.sessionTTL
	if remember {
		ttl = s.rememberTTL
	}

	bundle, err := s.mint(grant, ttl, remember)
	if err != nil {
		s.logger.Warn("session login rejected upstream grant", "error", err)
		s.observe("login", err)
		s.emit(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, map[string]any{
			"username": username,
			"error":    TextCode(err),
		})
		return nil, err
	}

	s.observe("login", nil)
	s.emit(ctx, ActivityEventLoginSuccess, actorFromClaims(bundle.Claims), map[string]any{
		"username": username,
		"remember": remember,
	})

	return bundle, nil
}

// RefreshOption customizes a single Refresh call.
type RefreshOption func(*refreshOptions)

type refreshOptions struct {
	remember bool
}

// WithRemember mints the refreshed session with the remember TTL and keeps
// the remember claim.
func WithRemember(remember bool) RefreshOption {
	return func(o *refreshOptions) {
		o.remember = remember
	}
}

// Remembered reports whether sessionToken was minted with remember set. The
// token may have expired; its signature must still verify.
func (s *SessionService) Remembered(sessionToken string) bool {
	if sessionToken == "" {
		return false
	}
	claims, err := s.codec.Inspect(sessionToken)
	if err != nil {
		return false
	}
	return claims.Remember
}

// Refresh rotates every credential using the refresh token. Callers must
// write the whole bundle or clear everything; there is no partial result.
// The session TTL is the short one unless WithRemember(true) is passed.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string, opts ...RefreshOption) (*SessionBundle, error) {
	options := &refreshOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if refreshToken == "" {
		s.observe("refresh", ErrMissingToken)
		return nil, ErrMissingToken
	}

	grant, err := s.upstream.Refresh(ctx, refreshToken)
	if err != nil {
		s.logger.Warn("session refresh upstream error", "error", err)
		s.observe("refresh", err)
		s.emit(ctx, ActivityEventRefreshFailure, ActorRef{Type: "unknown"}, map[string]any{
			"error": TextCode(err),
		})
		return nil, s.normalizeUpstreamError(err)
	}

	ttl := s.sessionTTL
	if options.remember {
		ttl = s.rememberTTL
	}

	bundle, err := s.mint(grant, ttl, options.remember)
	if err != nil {
		s.observe("refresh", err)
		s.emit(ctx, ActivityEventRefreshFailure, ActorRef{Type: "unknown"}, map[string]any{
			"error": TextCode(err),
		})
		return nil, err
	}

	s.observe("refresh", nil)
	s.emit(ctx, ActivityEventRefreshSuccess, actorFromClaims(bundle.Claims), map[string]any{
		"remember": options.remember,
	})

	return bundle, nil
}

// Logout records the event. Cookie clearing is done by CookieJar.Clear.
func (s *SessionService) Logout(ctx context.Context, identity Identity) {
	actor := ActorRef{Type: "anonymous"}
	if !identity.IsZero() {
		actor = ActorRef{ID: identity.SubjectID, Type: "user"}
	}
	s.emit(ctx, ActivityEventLogout, actor, nil)
}

func (s *SessionService) mint(grant *UpstreamGrant, ttl time.Duration, remember bool) (*SessionBundle, error) {
	if grant == nil || grant.Token == "" {
		return nil, withMetadata(ErrTokenMalformed, map[string]any{"reason": "empty upstream grant"})
	}

	up := grant.Claims
	if err := ValidateTimes(up.ExpiresAt, up.NotBefore, s.now(), s.codec.ClockSkew()); err != nil {
		return nil, err
	}

	claims := ClaimsFromUpstream(up)
	if claims.RoleCode == "" {
		return nil, withMetadata(ErrMissingRole, map[string]any{"sub": up.Subject})
	}
	claims.Remember = remember

	token, stamped, err := s.codec.Mint(claims, ttl)
	if err != nil {
		return nil, err
	}

	return &SessionBundle{
		SessionToken: token,
		APIToken:     grant.Token,
		RefreshToken: grant.RefreshToken,
		SessionTTL:   ttl,
		RefreshTTL:   s.refreshTTL,
		Claims:       *stamped,
	}, nil
}

// normalizeUpstreamError keeps the two upstream outcomes we report and
// folds everything else into unavailable, so an unknown failure is never
// read as success or as a credentials problem.
func (s *SessionService) normalizeUpstreamError(err error) error {
	switch TextCode(err) {
	case TextCodeInvalidCredentials, TextCodeUpstreamUnavailable:
		return err
	}
	return wrapAs(ErrUpstreamUnavailable, err)
}

func (s *SessionService) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = TextCode(err)
		if result == "" {
			result = "error"
		}
	}
	s.metrics.ObserveLogin(operation, result)
}

func (s *SessionService) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     actor.ID,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}
	if err := normalizeActivitySink(s.activitySink).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error", "error", err)
	}
}

func actorFromClaims(c SessionClaims) ActorRef {
	return ActorRef{ID: c.SubjectID(), Type: "user"}
}
