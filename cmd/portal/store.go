package main

import (
	"context"
	"database/sql"
	"fmt"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/approval"
	"github.com/goliatone/go-budget-auth/backend"
	"github.com/goliatone/go-budget-auth/config"
	"github.com/goliatone/go-budget-auth/repository"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// openDB opens DatabaseDSN with the bun dialect matching its scheme.
func openDB(s config.Settings) (*bun.DB, error) {
	if s.IsPostgres() {
		sqldb, err := sql.Open("pgx", s.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, s.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection keeps the conditional
	// update and the action insert on the same handle
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// openStore builds the approval.Store selected by PlanStore. The returned
// close function is never nil.
func openStore(ctx context.Context, s config.Settings, provider auth.LoggerProvider, migrate bool) (approval.Store, func() error, error) {
	noop := func() error { return nil }

	switch s.PlanStore {
	case config.StoreMemory:
		return approval.NewMemoryStore(), noop, nil
	case config.StoreBackend:
		client := backend.NewClient(s.BackendURL,
			backend.WithTimeout(s.BackendTimeout),
			backend.WithLogger(auth.ResolveLogger("backend", provider, nil)),
		)
		return client, noop, nil
	}

	db, err := openDB(s)
	if err != nil {
		return nil, noop, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, noop, fmt.Errorf("ping database: %w", err)
	}

	mgr := repository.NewManager(db)
	if migrate {
		if err := mgr.CreateTables(ctx); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("create tables: %w", err)
		}
	}

	return repository.NewPlanStore(mgr), db.Close, nil
}
