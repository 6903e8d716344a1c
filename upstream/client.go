package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"

	maxBodyBytes = 1 << 20
)

var _ auth.IdentityAPI = (*Client)(nil)

// Client calls the upstream identity API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  auth.Logger
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger overrides the client logger.
func WithLogger(logger auth.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a client for the identity API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  auth.ResolveLogger("upstream", nil, nil),
		tracer:  otel.Tracer("github.com/goliatone/go-budget-auth/upstream"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// Login implements auth.IdentityAPI.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.UpstreamGrant, error) {
	return c.exchange(ctx, "upstream.login", loginPath, loginRequest{Username: username, Password: password})
}

// Refresh implements auth.IdentityAPI.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.UpstreamGrant, error) {
	return c.exchange(ctx, "upstream.refresh", refreshPath, refreshRequest{RefreshToken: refreshToken})
}

func (c *Client) exchange(ctx context.Context, op, path string, payload any) (*auth.UpstreamGrant, error) {
	ctx, span := c.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	grant, status, err := c.do(ctx, path, payload)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		span.SetStatus(codes.Error, auth.TextCode(err))
		c.logger.Warn("upstream call failed", "op", op, "status", status, "code", auth.TextCode(err))
		return nil, err
	}
	return grant, nil
}

func (c *Client) do(ctx context.Context, path string, payload any) (*auth.UpstreamGrant, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, auth.NewUpstreamUnavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, auth.NewUpstreamUnavailable(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, res.StatusCode, auth.NewUpstreamUnavailable(err)
	}

	switch {
	case res.StatusCode == http.StatusBadRequest,
		res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusForbidden,
		res.StatusCode == http.StatusUnprocessableEntity:
		return nil, res.StatusCode, auth.NewInvalidCredentials(map[string]any{"status": res.StatusCode})
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, res.StatusCode, auth.NewUpstreamUnavailable(fmt.Errorf("identity api status %d", res.StatusCode))
	}

	var tokens tokenResponse
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, res.StatusCode, auth.NewUpstreamUnavailable(err)
	}
	if tokens.Token == "" {
		return nil, res.StatusCode, auth.NewUpstreamUnavailable(errors.New("identity api returned no token"))
	}

	claims, err := decodeUnverified(tokens.Token)
	if err != nil {
		return nil, res.StatusCode, err
	}

	return &auth.UpstreamGrant{
		Token:        tokens.Token,
		RefreshToken: tokens.RefreshToken,
		Claims:       claims,
	}, res.StatusCode, nil
}
