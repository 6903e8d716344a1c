package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goliatone/go-budget-auth/routes"
	"github.com/spf13/cobra"
)

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the route policy",
	}

	var policyFile string
	check := &cobra.Command{
		Use:   "check <path> <role>",
		Short: "Show how the gateway classifies path for role",
		Example: `  portal routes check /en/admin/users hr
  portal routes check /budget director --policy ./policy.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := loadPolicy(policyFile)
			if err != nil {
				return err
			}
			return writeRouteCheck(cmd.OutOrStdout(), checkRoute(policy, args[0], args[1]))
		},
	}
	check.Flags().StringVar(&policyFile, "policy", "", "route policy YAML (defaults to the built in policy)")

	cmd.AddCommand(check)
	return cmd
}

type routeCheck struct {
	Path        string `json:"path"`
	Role        string `json:"role"`
	Locale      string `json:"locale,omitempty"`
	Logical     string `json:"logical"`
	Class       string `json:"class"`
	Zone        string `json:"zone,omitempty"`
	ZoneMatched bool   `json:"zone_matched"`
	Allowed     bool   `json:"allowed"`
	Home        string `json:"home"`
}

func checkRoute(policy *routes.Policy, path, role string) routeCheck {
	res := policy.Resolve(path)
	out := routeCheck{
		Path:    path,
		Role:    role,
		Locale:  res.Locale,
		Logical: res.Logical,
		Class:   res.Class.String(),
		Home:    routes.WithLocale(policy.HomeFor(role), res.Locale),
	}

	if res.Class == routes.Public {
		out.Allowed = true
		return out
	}

	zone, matched, allowed := policy.Authorize(res.Logical, role)
	out.Zone = zone.Prefix
	out.ZoneMatched = matched
	out.Allowed = allowed
	return out
}

func writeRouteCheck(w io.Writer, rc routeCheck) error {
	raw, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

func loadPolicy(path string) (*routes.Policy, error) {
	if path == "" {
		return routes.DefaultPolicy(), nil
	}
	policy, err := routes.LoadPolicyFile(path)
	if err != nil {
		return nil, fmt.Errorf("load route policy: %w", err)
	}
	return policy, nil
}
