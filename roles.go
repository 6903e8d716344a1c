package auth

import (
	"context"
	"sort"
	"strings"

	"github.com/goliatone/go-budget-auth/routes"
	goerrors "github.com/goliatone/go-errors"
)

// Reserved role codes shipped with every organization.
const (
	RoleAdmin          = "admin"
	RoleDirector       = "director"
	RolePlanning       = "planning"
	RoleDepartmentHead = "department_head"
	RoleDepartmentUser = "department_user"
	RoleHR             = "hr"
)

var reservedRoles = map[string]struct{}{
	RoleAdmin:          {},
	RoleDirector:       {},
	RolePlanning:       {},
	RoleDepartmentHead: {},
	RoleDepartmentUser: {},
	RoleHR:             {},
}

// Role describes what a role may do in the approval chain. Roles that never
// approve keep ApprovalLevel 0 and CanApprove false.
type Role struct {
	Code                string `json:"code" yaml:"code"`
	Name                string `json:"name" yaml:"name"`
	Description         string `json:"description,omitempty" yaml:"description"`
	ApprovalLevel       int    `json:"approval_level" yaml:"approval_level"`
	CanApprove          bool   `json:"can_approve" yaml:"can_approve"`
	CanCreateBudgetPlan bool   `json:"can_create_budget_plan" yaml:"can_create_budget_plan"`
	CanViewAllPlans     bool   `json:"can_view_all_plans" yaml:"can_view_all_plans"`
}

// IsProtectedRole reports whether code is one of the reserved system roles.
func IsProtectedRole(code string) bool {
	_, ok := reservedRoles[NormalizeRole(code)]
	return ok
}

// ReservedRoles returns the reserved role codes in sorted order.
func ReservedRoles() []string {
	out := make([]string, 0, len(reservedRoles))
	for code := range reservedRoles {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// ValidateRoleUpdate enforces that protected roles only change name,
// description and approval level. The portal does not edit roles itself; it
// is exported for the role administration boundary to call before saving.
func ValidateRoleUpdate(before, after Role) error {
	if !IsProtectedRole(before.Code) {
		return nil
	}

	locked := []string{}
	if NormalizeRole(before.Code) != NormalizeRole(after.Code) {
		locked = append(locked, "code")
	}
	if before.CanApprove != after.CanApprove {
		locked = append(locked, "can_approve")
	}
	if before.CanCreateBudgetPlan != after.CanCreateBudgetPlan {
		locked = append(locked, "can_create_budget_plan")
	}
	if before.CanViewAllPlans != after.CanViewAllPlans {
		locked = append(locked, "can_view_all_plans")
	}

	if len(locked) == 0 {
		return nil
	}

	return withMetadata(ErrProtectedRoleField, map[string]any{
		"role":   before.Code,
		"fields": strings.Join(locked, ","),
	})
}

// RoleDirectory resolves role capabilities by code.
type RoleDirectory interface {
	FindRole(ctx context.Context, code string) (Role, error)
}

// ErrRoleNotFound is returned by directories for unknown codes.
var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRoleNotFound).
	WithCode(goerrors.CodeNotFound)

// StaticRoleDirectory is an in memory RoleDirectory.
type StaticRoleDirectory struct {
	roles map[string]Role
}

// NewStaticRoleDirectory indexes roles by normalized code.
func NewStaticRoleDirectory(roles ...Role) *StaticRoleDirectory {
	d := &StaticRoleDirectory{roles: make(map[string]Role, len(roles))}
	for _, r := range roles {
		r.Code = NormalizeRole(r.Code)
		if r.Code == "" {
			continue
		}
		d.roles[r.Code] = r
	}
	return d
}

// FindRole implements RoleDirectory.
func (d *StaticRoleDirectory) FindRole(_ context.Context, code string) (Role, error) {
	if r, ok := d.roles[NormalizeRole(code)]; ok {
		return r, nil
	}
	return Role{}, withMetadata(ErrRoleNotFound, map[string]any{"role": code})
}

// RolesFromPolicy converts the role entries of a route policy.
func RolesFromPolicy(p *routes.Policy) []Role {
	if p == nil {
		return nil
	}
	specs := p.Roles()
	out := make([]Role, 0, len(specs))
	for _, s := range specs {
		out = append(out, Role{
			Code:                NormalizeRole(s.Code),
			Name:                s.Name,
			Description:         s.Description,
			ApprovalLevel:       s.ApprovalLevel,
			CanApprove:          s.CanApprove,
			CanCreateBudgetPlan: s.CanCreateBudgetPlan,
			CanViewAllPlans:     s.CanViewAllPlans,
		})
	}
	return out
}
