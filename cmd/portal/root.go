package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "portal",
		Short: "Budget portal access gateway and approval service",
		Long: `portal fronts the budget planning application. It verifies session
tokens, gates routes by role, manages login and refresh against the upstream
identity API and runs the multi level plan approval chain.

Configuration is read from PORTAL_* environment variables.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand(), newMigrateCommand(), newRoutesCommand())
	return root
}
