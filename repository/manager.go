package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	repo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Manager owns the bun handle and the per table repositories.
type Manager struct {
	db      *bun.DB
	actions repo.Repository[*ActionModel]
}

// NewManager wires the repositories over db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:      db,
		actions: NewActionsRepository(db),
	}
}

// NewActionsRepository returns the generic repository for approval_actions.
func NewActionsRepository(db *bun.DB) repo.Repository[*ActionModel] {
	return repo.NewRepository[*ActionModel](db, repo.ModelHandlers[*ActionModel]{
		NewRecord: func() *ActionModel { return &ActionModel{} },
		GetID: func(record *ActionModel) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *ActionModel, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
	})
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.actions == nil {
		return errors.New("repository actions should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// CreateTables creates the plans and approval_actions tables if missing.
func (m *Manager) CreateTables(ctx context.Context) error {
	for _, model := range []any{(*PlanModel)(nil), (*ActionModel)(nil)} {
		if _, err := m.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	_, err := m.db.NewCreateIndex().
		Model((*ActionModel)(nil)).
		Index("approval_actions_plan_id_idx").
		Column("plan_id", "occurred_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Actions() repo.Repository[*ActionModel] {
	return m.actions
}

func (m *Manager) DB() *bun.DB {
	return m.db
}
