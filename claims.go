package auth

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the payload of the session token this service mints.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username       string `json:"username,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	RoleCode       string `json:"role_code,omitempty"`
	RoleID         *int   `json:"role_id,omitempty"`
	ApprovalLevel  int    `json:"approval_level"`
	OrganizationID string `json:"organization_id,omitempty"`
	DepartmentID   string `json:"department_id,omitempty"`
	Remember       bool   `json:"remember,omitempty"`
}

// SubjectID returns the stable user id.
func (c *SessionClaims) SubjectID() string {
	return c.RegisteredClaims.Subject
}

// Role returns the normalized role code.
func (c *SessionClaims) Role() string {
	return NormalizeRole(c.RoleCode)
}

// HasRole reports whether the claims carry role.
func (c *SessionClaims) HasRole(role string) bool {
	r := c.Role()
	return r != "" && r == NormalizeRole(role)
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *SessionClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// Identity projects the claims into the request identity handed downstream.
func (c *SessionClaims) Identity() Identity {
	return Identity{
		SubjectID:      c.SubjectID(),
		Username:       c.Username,
		DisplayName:    c.DisplayName,
		RoleCode:       c.Role(),
		ApprovalLevel:  c.ApprovalLevel,
		OrganizationID: c.OrganizationID,
		DepartmentID:   c.DepartmentID,
	}
}

// Validate checks the structural invariants. An empty role code is reported
// as ErrMissingRole regardless of anything else.
func (c *SessionClaims) Validate() error {
	if c == nil {
		return ErrTokenMalformed
	}

	if strings.TrimSpace(c.RoleCode) == "" {
		return withMetadata(ErrMissingRole, map[string]any{"sub": c.Subject})
	}

	if err := validation.Validate(c.Subject, validation.Required); err != nil {
		return wrapAs(ErrTokenMalformed, err).WithMetadata(map[string]any{"claim": "sub"})
	}

	if err := validation.Validate(c.ApprovalLevel, validation.Min(0)); err != nil {
		return wrapAs(ErrTokenMalformed, err).WithMetadata(map[string]any{"claim": "approval_level"})
	}

	return nil
}

// NormalizeRole lowercases and trims a role code.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// ClaimsFromUpstream maps upstream claims into a session payload. Time
// fields are left for the codec to set.
func ClaimsFromUpstream(up UpstreamClaims) SessionClaims {
	return SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: up.Subject,
		},
		Username:       up.Username,
		DisplayName:    up.DisplayName,
		RoleCode:       NormalizeRole(up.RoleCode),
		RoleID:         up.RoleID,
		ApprovalLevel:  up.ApprovalLevel,
		OrganizationID: up.OrganizationID,
		DepartmentID:   up.DepartmentID,
	}
}
