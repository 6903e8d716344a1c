package upstream

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-budget-auth"
)

var errMissingSubject = errors.New("upstream token has no subject")

// decodeUnverified reads the upstream token payload without checking the
// signature. Only call it on a token the identity API just handed back over
// a successful call. Time bounds are checked by the session service.
func decodeUnverified(token string) (auth.UpstreamClaims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return auth.UpstreamClaims{}, auth.NewTokenMalformed(err)
	}

	out := auth.UpstreamClaims{
		Subject:        stringClaim(mc, "sub", "user_id", "id"),
		Username:       stringClaim(mc, "username", "preferred_username"),
		DisplayName:    stringClaim(mc, "display_name", "name"),
		RoleCode:       strings.ToLower(stringClaim(mc, "role_code", "role")),
		OrganizationID: stringClaim(mc, "organization_id", "org_id"),
		DepartmentID:   stringClaim(mc, "department_id"),
	}

	if out.Subject == "" {
		return auth.UpstreamClaims{}, auth.NewTokenMalformed(errMissingSubject)
	}

	if id, ok := intClaim(mc, "role_id"); ok {
		out.RoleID = &id
	}
	if level, ok := intClaim(mc, "approval_level"); ok {
		out.ApprovalLevel = level
	}

	out.IssuedAt = timeClaim(mc.GetIssuedAt)
	out.ExpiresAt = timeClaim(mc.GetExpirationTime)
	out.NotBefore = timeClaim(mc.GetNotBefore)

	return out, nil
}

func stringClaim(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := mc[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func intClaim(mc jwt.MapClaims, key string) (int, bool) {
	switch v := mc[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func timeClaim(get func() (*jwt.NumericDate, error)) *time.Time {
	nd, err := get()
	if err != nil || nd == nil {
		return nil
	}
	t := nd.Time.UTC()
	return &t
}
