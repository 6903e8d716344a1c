package approval

import (
	"context"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-router"
)

// Context is the part of a router context the handlers use.
type Context interface {
	auth.LocalsReader
	Param(key string, defaultValue ...string) string
	Bind(v any) error
	JSON(code int, v any) error
	Context() context.Context
}

// RegisterRoutes mounts the plan approval endpoints on app. The gateway
// middleware must run in front of them.
func RegisterRoutes[T any](app router.Router[T], h *Handlers) {
	app.Get("/api/plans/pending", func(c router.Context) error {
		return h.Pending(c)
	}).SetName("plans.pending")

	app.Get("/api/plans/:id/permission", func(c router.Context) error {
		return h.Permission(c)
	}).SetName("plans.permission")

	app.Get("/api/plans/:id/actions", func(c router.Context) error {
		return h.History(c)
	}).SetName("plans.actions.list")

	app.Post("/api/plans/:id/submit", func(c router.Context) error {
		return h.Submit(c)
	}).SetName("plans.submit")

	app.Post("/api/plans/:id/actions", func(c router.Context) error {
		return h.Act(c)
	}).SetName("plans.actions.create")
}

// Handlers serves the approval endpoints.
type Handlers struct {
	Machine *StateMachine
	Roles   auth.RoleDirectory
	Logger  auth.Logger
}

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers) *Handlers

// WithHandlersLogger overrides the logger.
func WithHandlersLogger(logger auth.Logger) HandlersOption {
	return func(h *Handlers) *Handlers {
		if logger != nil {
			h.Logger = logger
		}
		return h
	}
}

// NewHandlers panics when a collaborator is missing.
func NewHandlers(machine *StateMachine, roles auth.RoleDirectory, opts ...HandlersOption) *Handlers {
	if machine == nil {
		panic("Missing state machine in approval handlers...")
	}
	if roles == nil {
		panic("Missing role directory in approval handlers...")
	}

	h := &Handlers{
		Machine: machine,
		Roles:   roles,
		Logger:  auth.ResolveLogger("approval.http", nil, nil),
	}

	for _, opt := range opts {
		if opt != nil {
			h = opt(h)
		}
	}

	return h
}

// ActionRequest is the body of POST /api/plans/:id/actions.
type ActionRequest struct {
	Action  string `json:"action" form:"action"`
	Comment string `json:"comment" form:"comment"`
}

// Validate checks the action name and comment length.
func (r ActionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Action, validation.Required, validation.In(
			string(ActionApprove), string(ActionReject), string(ActionRequestRevision),
		)),
		validation.Field(&r.Comment, validation.Length(0, 2000)),
	)
}

// Permission reports what the caller may do with a plan.
func (h *Handlers) Permission(c Context) error {
	ctx := requestContext(c)
	actor, err := h.actor(ctx, c)
	if err != nil {
		return h.errorJSON(c, err)
	}

	plan, err := h.Machine.Plan(ctx, c.Param("id"))
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"permission": Evaluate(actor, plan),
		"plan":       plan,
	})
}

// Pending lists the plans waiting on the caller's approval level.
func (h *Handlers) Pending(c Context) error {
	ctx := requestContext(c)
	actor, err := h.actor(ctx, c)
	if err != nil {
		return h.errorJSON(c, err)
	}
	if !actor.CanApprove {
		return h.errorJSON(c, ErrNotApprover)
	}

	plans, err := h.Machine.Pending(ctx, actor.ApprovalLevel)
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"level":   actor.ApprovalLevel,
		"plans":   plans,
	})
}

// History lists the plan's actions, oldest first.
func (h *Handlers) History(c Context) error {
	ctx := requestContext(c)
	if _, err := h.actor(ctx, c); err != nil {
		return h.errorJSON(c, err)
	}

	actions, err := h.Machine.History(ctx, c.Param("id"))
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"actions": actions,
	})
}

// Submit sends a plan into the approval chain.
func (h *Handlers) Submit(c Context) error {
	ctx := requestContext(c)
	actor, err := h.actor(ctx, c)
	if err != nil {
		return h.errorJSON(c, err)
	}

	payload := ActionRequest{}
	// body is optional
	_ = c.Bind(&payload)

	plan, err := h.Machine.Submit(ctx, actor, c.Param("id"), WithComment(payload.Comment))
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"plan":    plan,
	})
}

// Act applies approve, reject or request_revision.
func (h *Handlers) Act(c Context) error {
	ctx := requestContext(c)
	actor, err := h.actor(ctx, c)
	if err != nil {
		return h.errorJSON(c, err)
	}

	payload := ActionRequest{}
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid action",
			"fields":  err,
		})
	}

	action, _ := ParseActionType(payload.Action)

	plan, err := h.Machine.Act(ctx, actor, c.Param("id"), action, WithComment(payload.Comment))
	if err != nil {
		return h.errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"plan":    plan,
	})
}

func (h *Handlers) actor(ctx context.Context, c Context) (Actor, error) {
	identity, ok := auth.IdentityFromRouter(c)
	if !ok {
		identity, ok = auth.IdentityFromContext(ctx)
	}
	if !ok {
		return Actor{}, auth.ErrMissingToken
	}

	role, err := h.Roles.FindRole(ctx, identity.RoleCode)
	if err != nil {
		return Actor{}, err
	}

	return ActorFrom(identity, role), nil
}

func (h *Handlers) errorJSON(c Context, err error) error {
	code := auth.TextCode(err)
	status := auth.HTTPStatus(err)

	switch {
	case auth.IsAuthError(err):
		status = http.StatusUnauthorized
	case auth.HasTextCode(err, auth.TextCodeRoleNotFound):
		status = http.StatusForbidden
	}

	h.Logger.Info("approval request failed", "plan_id", c.Param("id"), "code", code, "status", status)

	body := map[string]any{
		"success": false,
		"error":   publicMessage(code),
		"code":    code,
	}
	if IsStale(err) {
		body["retry"] = "refetch"
	}

	return c.JSON(status, body)
}

func publicMessage(code string) string {
	switch code {
	case TextCodeStaleApprovalLevel:
		return "plan changed, reload and try again"
	case TextCodeInvalidTransition:
		return "action not allowed for this plan"
	case TextCodePlanNotFound:
		return "plan not found"
	case TextCodeQueueUnsupported:
		return "pending queue not available"
	case TextCodeNotApprover, TextCodeCannotSubmit, auth.TextCodeRoleNotFound:
		return "not allowed"
	case auth.TextCodeMissingToken, auth.TextCodeTokenExpired, auth.TextCodeTokenMalformed:
		return "authentication required"
	case "":
		return "internal error"
	default:
		return "request failed"
	}
}

func requestContext(c Context) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
