package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-budget-auth/approval"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	_ approval.Store         = (*PlanStore)(nil)
	_ approval.PendingLister = (*PlanStore)(nil)
)

// PlanStore is the SQL approval.Store. Apply is a conditional UPDATE on
// (status, current_approval_level) plus the action insert, in one
// transaction.
type PlanStore struct {
	mgr *Manager
	now func() time.Time
}

// PlanStoreOption configures a PlanStore.
type PlanStoreOption func(*PlanStore)

// WithPlanStoreClock overrides the clock used for created/updated stamps.
func WithPlanStoreClock(now func() time.Time) PlanStoreOption {
	return func(s *PlanStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPlanStore returns a store over the manager's database.
func NewPlanStore(mgr *Manager, opts ...PlanStoreOption) *PlanStore {
	mgr.MustValidate()
	s := &PlanStore{mgr: mgr, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create inserts a new plan. A missing id gets a random UUID and missing
// timestamps are stamped with the clock.
func (s *PlanStore) Create(ctx context.Context, plan approval.Plan) (approval.Plan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Status == "" {
		plan.Status = approval.StatusDraft
	}
	if err := plan.Validate(); err != nil {
		return approval.Plan{}, err
	}

	now := s.now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	if plan.UpdatedAt.IsZero() {
		plan.UpdatedAt = now
	}

	if _, err := s.mgr.DB().NewInsert().Model(planToModel(plan)).Exec(ctx); err != nil {
		return approval.Plan{}, err
	}
	return plan, nil
}

// Get implements approval.Store.
func (s *PlanStore) Get(ctx context.Context, planID string) (approval.Plan, error) {
	return s.get(ctx, s.mgr.DB(), planID)
}

func (s *PlanStore) get(ctx context.Context, db bun.IDB, planID string) (approval.Plan, error) {
	model := &PlanModel{}
	err := db.NewSelect().Model(model).Where("id = ?", planID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Plan{}, approval.NewPlanNotFound(planID)
	}
	if err != nil {
		return approval.Plan{}, err
	}
	return planFromModel(model), nil
}

// Apply implements approval.Store. A zero row update means another writer
// moved the plan first; it is reported as stale and not retried.
func (s *PlanStore) Apply(ctx context.Context, t approval.Transition) error {
	return s.mgr.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		after := planToModel(t.After)

		res, err := tx.NewUpdate().
			Model(after).
			Column("status", "current_approval_level", "submitted_at", "updated_at").
			Where("id = ?", t.Before.ID).
			Where("status = ?", string(t.Before.Status)).
			Where("current_approval_level = ?", t.Before.CurrentApprovalLevel).
			Exec(ctx)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if affected == 0 {
			if _, err := s.get(ctx, tx, t.Before.ID); err != nil {
				return err
			}
			return approval.NewStaleApprovalLevel(t.Before.ID, t.Before.CurrentApprovalLevel)
		}

		_, err = s.mgr.Actions().CreateTx(ctx, tx, actionToModel(t.Action))
		return err
	})
}

// History implements approval.Store.
func (s *PlanStore) History(ctx context.Context, planID string) ([]approval.Action, error) {
	if _, err := s.Get(ctx, planID); err != nil {
		return nil, err
	}

	var models []ActionModel
	err := s.mgr.DB().NewSelect().
		Model(&models).
		Where("plan_id = ?", planID).
		OrderExpr("occurred_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	out := make([]approval.Action, len(models))
	for i := range models {
		out[i] = actionFromModel(&models[i])
	}
	return out, nil
}

// Pending lists plans waiting on the given approval level, oldest first.
func (s *PlanStore) Pending(ctx context.Context, level int) ([]approval.Plan, error) {
	var models []PlanModel
	err := s.mgr.DB().NewSelect().
		Model(&models).
		Where("status = ?", string(approval.StatusPendingApproval)).
		Where("current_approval_level = ?", level).
		OrderExpr("submitted_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	out := make([]approval.Plan, len(models))
	for i := range models {
		out[i] = planFromModel(&models[i])
	}
	return out, nil
}
