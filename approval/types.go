package approval

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-budget-auth"
)

// Status is the lifecycle state of a budget plan.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusInRevision      Status = "in_revision"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusInRevision:
		return true
	}
	return false
}

// ActionType is what an actor does to a plan.
type ActionType string

const (
	ActionSubmit          ActionType = "submit"
	ActionApprove         ActionType = "approve"
	ActionReject          ActionType = "reject"
	ActionRequestRevision ActionType = "request_revision"
)

// ParseActionType accepts the wire names, case insensitive.
func ParseActionType(raw string) (ActionType, bool) {
	switch a := ActionType(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionSubmit, ActionApprove, ActionReject, ActionRequestRevision:
		return a, true
	}
	return "", false
}

// Plan is the part of a budget plan the approval chain reads and writes.
type Plan struct {
	ID                   string     `json:"id"`
	OrganizationID       string     `json:"organization_id,omitempty"`
	DepartmentID         string     `json:"department_id,omitempty"`
	Title                string     `json:"title,omitempty"`
	Status               Status     `json:"status"`
	CurrentApprovalLevel int        `json:"current_approval_level"`
	MaxApprovalLevel     int        `json:"max_approval_level"`
	SubmittedAt          *time.Time `json:"submitted_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Validate checks 0 <= current <= max and a known status.
func (p Plan) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Status, validation.Required, validation.In(
			StatusDraft, StatusPendingApproval, StatusApproved, StatusInRevision,
		)),
		validation.Field(&p.MaxApprovalLevel, validation.Min(0)),
		validation.Field(&p.CurrentApprovalLevel, validation.Min(0), validation.Max(p.MaxApprovalLevel)),
	)
}

// Action is the append only record of one transition.
type Action struct {
	ID                 string     `json:"id"`
	PlanID             string     `json:"plan_id"`
	ActorID            string     `json:"actor_id"`
	ActorRole          string     `json:"actor_role,omitempty"`
	ActorApprovalLevel int        `json:"actor_approval_level"`
	Action             ActionType `json:"action"`
	LevelActedOn       int        `json:"level_acted_on"`
	FromStatus         Status     `json:"from_status"`
	ToStatus           Status     `json:"to_status"`
	Comment            string     `json:"comment,omitempty"`
	OccurredAt         time.Time  `json:"occurred_at"`
}

// Actor is who performs an action, derived from the verified identity and
// the role directory.
type Actor struct {
	ID                  string `json:"id"`
	RoleCode            string `json:"role_code"`
	ApprovalLevel       int    `json:"approval_level"`
	CanApprove          bool   `json:"can_approve"`
	CanCreateBudgetPlan bool   `json:"can_create_budget_plan"`
}

// ActorFrom combines the session identity with the role capabilities. The
// approval level comes from the signed session.
func ActorFrom(identity auth.Identity, role auth.Role) Actor {
	return Actor{
		ID:                  identity.SubjectID,
		RoleCode:            identity.RoleCode,
		ApprovalLevel:       identity.ApprovalLevel,
		CanApprove:          role.CanApprove,
		CanCreateBudgetPlan: role.CanCreateBudgetPlan,
	}
}

// Transition is a computed state change ready to be persisted. Before is
// the plan as read; stores must write After only if the stored status and
// level still match Before.
type Transition struct {
	Before Plan
	After  Plan
	Action Action
}
