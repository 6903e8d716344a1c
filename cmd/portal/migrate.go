package main

import (
	"fmt"

	"github.com/goliatone/go-budget-auth/config"
	"github.com/goliatone/go-budget-auth/repository"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the plan and approval action tables",
		Long: `migrate creates the plans and approval_actions tables in the database
named by PORTAL_DATABASE_DSN. It is safe to run more than once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}
			if settings.PlanStore != config.StoreSQL {
				return fmt.Errorf("migrate needs PORTAL_PLAN_STORE=%s, got %q", config.StoreSQL, settings.PlanStore)
			}

			lgr := newLogger(settings.LogLevel, settings.Debug)
			logger := lgr.GetLogger("migrate")

			db, err := openDB(settings)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.NewManager(db).CreateTables(cmd.Context()); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}

			logger.Info("tables ready", "dialect", db.Dialect().Name().String())
			return nil
		},
	}
}
