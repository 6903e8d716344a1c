package auth

import (
	"context"
)

// IdentityLocalsKey is the router locals key the gateway stores identity under.
const IdentityLocalsKey = "budget_auth_identity"

var (
	identityCtxKey = &contextKey{"identity"}
	apiTokenCtxKey = &contextKey{"api_token"}
)

type contextKey struct {
	name string
}

// Identity is the request identity derived by the gateway from a verified
// session token. Handlers must read it from the context or router locals
// and never from client supplied headers.
type Identity struct {
	SubjectID      string `json:"subject_id"`
	Username       string `json:"username,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	RoleCode       string `json:"role_code"`
	ApprovalLevel  int    `json:"approval_level"`
	OrganizationID string `json:"organization_id,omitempty"`
	DepartmentID   string `json:"department_id,omitempty"`
}

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool {
	return i.SubjectID == "" && i.RoleCode == ""
}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext returns the identity stored by the gateway.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityCtxKey).(Identity)
	if !ok || identity.IsZero() {
		return Identity{}, false
	}
	return identity, true
}

// LocalsReader is the part of a router context we read identity from.
type LocalsReader interface {
	Locals(key any, value ...any) any
}

// IdentityFromRouter returns the identity stored in router locals.
func IdentityFromRouter(c LocalsReader) (Identity, bool) {
	if c == nil {
		return Identity{}, false
	}
	identity, ok := c.Locals(IdentityLocalsKey).(Identity)
	if !ok || identity.IsZero() {
		return Identity{}, false
	}
	return identity, true
}

// WithAPIToken stores the upstream API token so backend calls can be made
// on the user's behalf.
func WithAPIToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, apiTokenCtxKey, token)
}

// APITokenFromContext returns the upstream API token stored by the gateway.
func APITokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	token, ok := ctx.Value(apiTokenCtxKey).(string)
	return token, ok && token != ""
}
