package routes

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Zone restricts a path prefix to a set of roles. A "*" entry admits any
// authenticated role.
type Zone struct {
	Prefix string   `yaml:"prefix"`
	Roles  []string `yaml:"roles"`
}

// Allows reports whether role may enter the zone.
func (z Zone) Allows(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range z.Roles {
		if r == "*" || r == role {
			return true
		}
	}
	return false
}

// RoleSpec is a role entry in the policy file.
type RoleSpec struct {
	Code                string `yaml:"code"`
	Name                string `yaml:"name"`
	Description         string `yaml:"description"`
	ApprovalLevel       int    `yaml:"approval_level"`
	CanApprove          bool   `yaml:"can_approve"`
	CanCreateBudgetPlan bool   `yaml:"can_create_budget_plan"`
	CanViewAllPlans     bool   `yaml:"can_view_all_plans"`
}

type policyFile struct {
	Locales       []string          `yaml:"locales"`
	LoginPath     string            `yaml:"login_path"`
	ForbiddenPath string            `yaml:"forbidden_path"`
	DefaultHome   string            `yaml:"default_home"`
	Public        publicFile        `yaml:"public"`
	AuthPages     []string          `yaml:"auth_pages"`
	Zones         []Zone            `yaml:"zones"`
	Homes         map[string]string `yaml:"homes"`
	Roles         []RoleSpec        `yaml:"roles"`
}

type publicFile struct {
	Exact    []string `yaml:"exact"`
	Prefixes []string `yaml:"prefixes"`
}

// DefaultPolicy parses the embedded policy. It panics on error since the
// embedded file is part of the build.
func DefaultPolicy() *Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("routes: embedded policy is invalid: %v", err))
	}
	return p
}

// LoadPolicyFile reads a policy from disk.
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}

// LoadPolicy reads a policy from r.
func LoadPolicy(r io.Reader) (*Policy, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes and validates a YAML policy.
func ParsePolicy(raw []byte) (*Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return newPolicy(pf)
}

func newPolicy(pf policyFile) (*Policy, error) {
	p := &Policy{
		publicExact: map[string]struct{}{},
		authPages:   map[string]struct{}{},
		homes:       map[string]string{},
		loginPath:   orDefault(pf.LoginPath, "/login"),
		forbidden:   orDefault(pf.ForbiddenPath, "/forbidden"),
		defaultHome: orDefault(pf.DefaultHome, "/dashboard"),
		roles:       append([]RoleSpec(nil), pf.Roles...),
	}

	for _, tag := range pf.Locales {
		canonical, err := CanonicalLocale(tag)
		if err != nil {
			return nil, err
		}
		p.locales = append(p.locales, canonical)
	}

	for _, path := range pf.Public.Exact {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("public path %q must start with /", path)
		}
		p.publicExact[cleanPath(path)] = struct{}{}
	}

	for _, prefix := range pf.Public.Prefixes {
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("public prefix %q must start with /", prefix)
		}
		p.publicPrefixes = append(p.publicPrefixes, cleanPath(prefix))
	}

	for _, path := range pf.AuthPages {
		p.authPages[cleanPath(path)] = struct{}{}
	}

	for role, home := range pf.Homes {
		if !strings.HasPrefix(home, "/") {
			return nil, fmt.Errorf("home for %q must start with /", role)
		}
		p.homes[strings.ToLower(strings.TrimSpace(role))] = home
	}

	for i, z := range pf.Zones {
		if !strings.HasPrefix(z.Prefix, "/") {
			return nil, fmt.Errorf("zone %d prefix %q must start with /", i, z.Prefix)
		}
		if len(z.Roles) == 0 {
			return nil, fmt.Errorf("zone %q has no roles", z.Prefix)
		}
		zone := Zone{Prefix: cleanPath(z.Prefix)}
		for _, r := range z.Roles {
			zone.Roles = append(zone.Roles, strings.ToLower(strings.TrimSpace(r)))
		}
		for _, earlier := range p.zones {
			if matchPrefix(zone.Prefix, earlier.Prefix) {
				return nil, fmt.Errorf("zone %q is shadowed by earlier zone %q", zone.Prefix, earlier.Prefix)
			}
		}
		p.zones = append(p.zones, zone)
	}

	return p, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
