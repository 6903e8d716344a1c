package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/stretchr/testify/assert"
)

func TestIdentityContextRoundTrip(t *testing.T) {
	identity := auth.Identity{SubjectID: "u-1", RoleCode: "hr"}

	ctx := auth.WithIdentity(context.Background(), identity)
	got, ok := auth.IdentityFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, identity, got)

	_, ok = auth.IdentityFromContext(auth.WithIdentity(context.Background(), auth.Identity{}))
	assert.False(t, ok)
}

func TestIdentityFromRouter(t *testing.T) {
	c := newFakeContext("GET", "/")

	_, ok := auth.IdentityFromRouter(c)
	assert.False(t, ok)

	c.Locals(auth.IdentityLocalsKey, "not an identity")
	_, ok = auth.IdentityFromRouter(c)
	assert.False(t, ok)

	c.Locals(auth.IdentityLocalsKey, auth.Identity{SubjectID: "u-1", RoleCode: "admin"})
	got, ok := auth.IdentityFromRouter(c)
	assert.True(t, ok)
	assert.Equal(t, "admin", got.RoleCode)

	_, ok = auth.IdentityFromRouter(nil)
	assert.False(t, ok)
}

func TestAPITokenContext(t *testing.T) {
	_, ok := auth.APITokenFromContext(context.Background())
	assert.False(t, ok)

	_, ok = auth.APITokenFromContext(auth.WithAPIToken(context.Background(), ""))
	assert.False(t, ok)

	token, ok := auth.APITokenFromContext(auth.WithAPIToken(context.Background(), "upstream-token"))
	assert.True(t, ok)
	assert.Equal(t, "upstream-token", token)
}
