package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/approval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Identity headers sent to the backend. They are derived from the verified
// session, never copied from the incoming request.
const (
	HeaderUserID         = "X-User-Id"
	HeaderUserRole       = "X-User-Role"
	HeaderOrganizationID = "X-Organization-Id"
	HeaderDepartmentID   = "X-Department-Id"

	maxBodyBytes = 4 << 20
)

var (
	_ approval.Store         = (*Client)(nil)
	_ approval.PendingLister = (*Client)(nil)
)

// Client is an approval.Store backed by the budget backend API. Calls run
// with the identity and API token found in the context.
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

// NewClient returns a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  auth.ResolveLogger("backend", nil, nil),
		tracer:  otel.Tracer("github.com/goliatone/go-budget-auth/backend"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type transitionRequest struct {
	ExpectedStatus approval.Status `json:"expected_status"`
	ExpectedLevel  int             `json:"expected_level"`
	Plan           approval.Plan   `json:"plan"`
	Action         approval.Action `json:"action"`
}

// Get implements approval.Store.
func (c *Client) Get(ctx context.Context, planID string) (approval.Plan, error) {
	var plan approval.Plan
	err := c.call(ctx, http.MethodGet, planPath(planID), nil, &plan)
	if err != nil {
		return approval.Plan{}, c.planError(err, planID)
	}
	if plan.ID == "" {
		return approval.Plan{}, withMetadata(ErrUnexpectedShape, map[string]any{"reason": "plan without id"})
	}
	return plan, nil
}

// Apply implements approval.Store. The backend checks expected_status and
// expected_level and answers 409 when the plan moved.
func (c *Client) Apply(ctx context.Context, t approval.Transition) error {
	body := transitionRequest{
		ExpectedStatus: t.Before.Status,
		ExpectedLevel:  t.Before.CurrentApprovalLevel,
		Plan:           t.After,
		Action:         t.Action,
	}
	err := c.call(ctx, http.MethodPost, planPath(t.Before.ID)+"/transitions", body, nil)
	if approval.IsStale(err) {
		return approval.NewStaleApprovalLevel(t.Before.ID, t.Before.CurrentApprovalLevel)
	}
	return c.planError(err, t.Before.ID)
}

// History implements approval.Store.
func (c *Client) History(ctx context.Context, planID string) ([]approval.Action, error) {
	var actions []approval.Action
	if err := c.call(ctx, http.MethodGet, planPath(planID)+"/actions", nil, &actions); err != nil {
		return nil, c.planError(err, planID)
	}
	if actions == nil {
		actions = []approval.Action{}
	}
	return actions, nil
}

// Pending implements approval.PendingLister.
func (c *Client) Pending(ctx context.Context, level int) ([]approval.Plan, error) {
	var plans []approval.Plan
	path := "/plans/pending?level=" + strconv.Itoa(level)
	if err := c.call(ctx, http.MethodGet, path, nil, &plans); err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []approval.Plan{}
	}
	return plans, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "backend "+method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	status, err := c.do(ctx, method, path, in, out)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		span.SetStatus(codes.Error, auth.TextCode(err))
		c.logger.Warn("backend call failed", "method", method, "path", path, "status", status, "code", auth.TextCode(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, withMetadata(ErrBackendUnavailable, map[string]any{"error": err.Error()})
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setCredentials(ctx, req.Header)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return 0, ctxErr
		}
		return 0, withMetadata(ErrBackendUnavailable, map[string]any{"error": err.Error()})
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return res.StatusCode, withMetadata(ErrBackendUnavailable, map[string]any{"error": err.Error()})
	}

	if res.StatusCode == http.StatusNoContent && out == nil {
		return res.StatusCode, nil
	}

	success := res.StatusCode >= 200 && res.StatusCode <= 299

	env, err := decodeEnvelope(raw)
	if err != nil {
		if !success {
			// the status carries the meaning when the error body is unusable
			return res.StatusCode, statusError(res.StatusCode, nil)
		}
		return res.StatusCode, err
	}

	if !success {
		return res.StatusCode, statusError(res.StatusCode, env.Error)
	}
	if env.Error != nil {
		return res.StatusCode, withMetadata(ErrUnexpectedShape, map[string]any{"reason": "error body with success status"})
	}

	if out == nil {
		return res.StatusCode, nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return res.StatusCode, withMetadata(ErrUnexpectedShape, map[string]any{"reason": "missing data"})
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return res.StatusCode, withMetadata(ErrUnexpectedShape, map[string]any{"reason": err.Error()})
	}
	return res.StatusCode, nil
}

// decodeEnvelope accepts exactly {"data": ...} or {"error": {...}}.
func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, withMetadata(ErrUnexpectedShape, map[string]any{"reason": "empty body"})
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return env, withMetadata(ErrUnexpectedShape, map[string]any{"reason": err.Error()})
	}

	hasData := len(env.Data) > 0
	hasError := env.Error != nil
	if hasData == hasError {
		return env, withMetadata(ErrUnexpectedShape, map[string]any{"reason": "want exactly one of data or error"})
	}
	return env, nil
}

func statusError(status int, apiErr *apiError) error {
	meta := map[string]any{"status": status}
	if apiErr != nil {
		meta["backend_code"] = apiErr.Code
		meta["backend_message"] = apiErr.Message
	}

	switch status {
	case http.StatusUnauthorized:
		return withMetadata(ErrBackendRejected, meta)
	case http.StatusForbidden:
		return withMetadata(ErrBackendForbidden, meta)
	case http.StatusNotFound:
		return approval.NewPlanNotFound("")
	case http.StatusConflict:
		return approval.NewStaleApprovalLevel("", 0)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return approval.NewInvalidTransition(meta)
	}
	return withMetadata(ErrBackendUnavailable, meta)
}

// planError fills in the plan id for a 404.
func (c *Client) planError(err error, planID string) error {
	if approval.IsNotFound(err) {
		return approval.NewPlanNotFound(planID)
	}
	return err
}

func setCredentials(ctx context.Context, h http.Header) {
	if token, ok := auth.APITokenFromContext(ctx); ok {
		h.Set("Authorization", "Bearer "+token)
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return
	}
	h.Set(HeaderUserID, identity.SubjectID)
	h.Set(HeaderUserRole, identity.RoleCode)
	if identity.OrganizationID != "" {
		h.Set(HeaderOrganizationID, identity.OrganizationID)
	}
	if identity.DepartmentID != "" {
		h.Set(HeaderDepartmentID, identity.DepartmentID)
	}
}

func planPath(planID string) string {
	return "/plans/" + url.PathEscape(planID)
}
