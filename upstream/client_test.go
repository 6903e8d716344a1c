package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-budget-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upstreamToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	// the signing key is unknown to us; any key works for unverified decode
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("upstream-only"))
	require.NoError(t, err)
	return token
}

func TestClient_Login(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := upstreamToken(t, jwt.MapClaims{
		"sub":             "42",
		"username":        "jdoe",
		"role_code":       "Director",
		"role_id":         float64(3),
		"approval_level":  float64(2),
		"organization_id": "org-1",
		"department_id":   "dep-7",
		"exp":             exp,
	})

	var got loginRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token, "refresh_token": "refresh-1"})
	}))
	defer srv.Close()

	grant, err := NewClient(srv.URL+"/").Login(context.Background(), "jdoe", "secret")
	require.NoError(t, err)

	assert.Equal(t, loginRequest{Username: "jdoe", Password: "secret"}, got)
	assert.Equal(t, token, grant.Token)
	assert.Equal(t, "refresh-1", grant.RefreshToken)
	assert.Equal(t, "42", grant.Claims.Subject)
	assert.Equal(t, "director", grant.Claims.RoleCode)
	assert.Equal(t, 2, grant.Claims.ApprovalLevel)
	require.NotNil(t, grant.Claims.RoleID)
	assert.Equal(t, 3, *grant.Claims.RoleID)
	require.NotNil(t, grant.Claims.ExpiresAt)
	assert.Equal(t, exp, grant.Claims.ExpiresAt.Unix())
	assert.Nil(t, grant.Claims.NotBefore)
}

func TestClient_Refresh(t *testing.T) {
	token := upstreamToken(t, jwt.MapClaims{"sub": "42", "role_code": "hr"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		var body refreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body.RefreshToken)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token, "refresh_token": "refresh-2"})
	}))
	defer srv.Close()

	grant, err := NewClient(srv.URL).Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", grant.RefreshToken)
	assert.Equal(t, "hr", grant.Claims.RoleCode)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad password"}`, auth.TextCodeInvalidCredentials},
		{"forbidden", http.StatusForbidden, `{}`, auth.TextCodeInvalidCredentials},
		{"bad request", http.StatusBadRequest, `{}`, auth.TextCodeInvalidCredentials},
		{"server error", http.StatusInternalServerError, `oops`, auth.TextCodeUpstreamUnavailable},
		{"bad gateway", http.StatusBadGateway, ``, auth.TextCodeUpstreamUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, auth.TextCodeUpstreamUnavailable},
		{"not json", http.StatusOK, `<html>`, auth.TextCodeUpstreamUnavailable},
		{"no token", http.StatusOK, `{"refresh_token":"r"}`, auth.TextCodeUpstreamUnavailable},
		{"token not a jwt", http.StatusOK, `{"token":"opaque"}`, auth.TextCodeTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Login(context.Background(), "jdoe", "secret")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, auth.TextCode(err))
		})
	}
}

func TestClient_MisroutedLoginIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Username == "ghost" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, wrongPassword := client.Login(context.Background(), "jdoe", "nope")
	assert.True(t, auth.HasTextCode(wrongPassword, auth.TextCodeInvalidCredentials))

	// 404 means the endpoint is misrouted, not that the user is unknown
	_, unknown := client.Login(context.Background(), "ghost", "nope")
	assert.True(t, auth.IsRetryable(unknown))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond)).Login(context.Background(), "jdoe", "secret")
	require.Error(t, err)
	assert.True(t, auth.IsRetryable(err))
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Refresh(context.Background(), "refresh-1")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeUpstreamUnavailable))
}

func TestDecodeUnverified(t *testing.T) {
	t.Run("fallback claim names", func(t *testing.T) {
		claims, err := decodeUnverified(upstreamToken(t, jwt.MapClaims{
			"user_id":        float64(7),
			"name":           "Jane Doe",
			"role":           "HR",
			"approval_level": "1",
			"nbf":            float64(1700000000),
		}))
		require.NoError(t, err)
		assert.Equal(t, "7", claims.Subject)
		assert.Equal(t, "Jane Doe", claims.DisplayName)
		assert.Equal(t, "hr", claims.RoleCode)
		assert.Equal(t, 1, claims.ApprovalLevel)
		require.NotNil(t, claims.NotBefore)
		assert.Equal(t, int64(1700000000), claims.NotBefore.Unix())
	})

	t.Run("missing role is left for the session service", func(t *testing.T) {
		claims, err := decodeUnverified(upstreamToken(t, jwt.MapClaims{"sub": "42"}))
		require.NoError(t, err)
		assert.Empty(t, claims.RoleCode)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := decodeUnverified(upstreamToken(t, jwt.MapClaims{"role_code": "hr"}))
		assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenMalformed))
	})

	t.Run("fractional level ignored", func(t *testing.T) {
		claims, err := decodeUnverified(upstreamToken(t, jwt.MapClaims{"sub": "42", "approval_level": 1.5}))
		require.NoError(t, err)
		assert.Equal(t, 0, claims.ApprovalLevel)
	})
}
