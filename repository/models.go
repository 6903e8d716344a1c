package repository

import (
	"time"

	"github.com/goliatone/go-budget-auth/approval"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// PlanModel is the Bun model for the approval columns of a budget plan.
type PlanModel struct {
	bun.BaseModel `bun:"table:plans,alias:p"`

	ID                   string     `bun:"id,pk"`
	OrganizationID       string     `bun:"organization_id"`
	DepartmentID         string     `bun:"department_id"`
	Title                string     `bun:"title"`
	Status               string     `bun:"status,notnull"`
	CurrentApprovalLevel int        `bun:"current_approval_level,notnull"`
	MaxApprovalLevel     int        `bun:"max_approval_level,notnull"`
	SubmittedAt          *time.Time `bun:"submitted_at,nullzero"`
	CreatedAt            time.Time  `bun:"created_at,notnull"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull"`
}

// ActionModel is one row of the append only approval log. The primary key
// holds the action ULID in uuid form so it sorts by creation time.
type ActionModel struct {
	bun.BaseModel `bun:"table:approval_actions,alias:aa"`

	ID                 uuid.UUID `bun:"id,pk,type:uuid"`
	PlanID             string    `bun:"plan_id,notnull"`
	ActorID            string    `bun:"actor_id,notnull"`
	ActorRole          string    `bun:"actor_role"`
	ActorApprovalLevel int       `bun:"actor_approval_level,notnull"`
	Action             string    `bun:"action,notnull"`
	LevelActedOn       int       `bun:"level_acted_on,notnull"`
	FromStatus         string    `bun:"from_status,notnull"`
	ToStatus           string    `bun:"to_status,notnull"`
	Comment            string    `bun:"comment"`
	OccurredAt         time.Time `bun:"occurred_at,notnull"`
}

func planFromModel(m *PlanModel) approval.Plan {
	return approval.Plan{
		ID:                   m.ID,
		OrganizationID:       m.OrganizationID,
		DepartmentID:         m.DepartmentID,
		Title:                m.Title,
		Status:               approval.Status(m.Status),
		CurrentApprovalLevel: m.CurrentApprovalLevel,
		MaxApprovalLevel:     m.MaxApprovalLevel,
		SubmittedAt:          utcPtr(m.SubmittedAt),
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
	}
}

func planToModel(p approval.Plan) *PlanModel {
	return &PlanModel{
		ID:                   p.ID,
		OrganizationID:       p.OrganizationID,
		DepartmentID:         p.DepartmentID,
		Title:                p.Title,
		Status:               string(p.Status),
		CurrentApprovalLevel: p.CurrentApprovalLevel,
		MaxApprovalLevel:     p.MaxApprovalLevel,
		SubmittedAt:          p.SubmittedAt,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func actionFromModel(m *ActionModel) approval.Action {
	return approval.Action{
		ID:                 ulid.ULID(m.ID).String(),
		PlanID:             m.PlanID,
		ActorID:            m.ActorID,
		ActorRole:          m.ActorRole,
		ActorApprovalLevel: m.ActorApprovalLevel,
		Action:             approval.ActionType(m.Action),
		LevelActedOn:       m.LevelActedOn,
		FromStatus:         approval.Status(m.FromStatus),
		ToStatus:           approval.Status(m.ToStatus),
		Comment:            m.Comment,
		OccurredAt:         m.OccurredAt.UTC(),
	}
}

func actionToModel(a approval.Action) *ActionModel {
	m := &ActionModel{
		PlanID:             a.PlanID,
		ActorID:            a.ActorID,
		ActorRole:          a.ActorRole,
		ActorApprovalLevel: a.ActorApprovalLevel,
		Action:             string(a.Action),
		LevelActedOn:       a.LevelActedOn,
		FromStatus:         string(a.FromStatus),
		ToStatus:           string(a.ToStatus),
		Comment:            a.Comment,
		OccurredAt:         a.OccurredAt,
	}
	if id, err := ulid.ParseStrict(a.ID); err == nil {
		m.ID = uuid.UUID(id)
	}
	return m
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
