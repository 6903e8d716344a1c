package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/approval"
	"github.com/goliatone/go-budget-auth/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userContext() context.Context {
	ctx := auth.WithIdentity(context.Background(), auth.Identity{
		SubjectID:      "user-42",
		RoleCode:       "director",
		ApprovalLevel:  1,
		OrganizationID: "org-1",
		DepartmentID:   "dep-7",
	})
	return auth.WithAPIToken(ctx, "upstream-token")
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestClient_GetSendsDerivedIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plans/plan-1", r.URL.Path)
		assert.Equal(t, "Bearer upstream-token", r.Header.Get("Authorization"))
		assert.Equal(t, "user-42", r.Header.Get(backend.HeaderUserID))
		assert.Equal(t, "director", r.Header.Get(backend.HeaderUserRole))
		assert.Equal(t, "org-1", r.Header.Get(backend.HeaderOrganizationID))
		assert.Equal(t, "dep-7", r.Header.Get(backend.HeaderDepartmentID))
		writeJSON(w, http.StatusOK, `{"data":{"id":"plan-1","status":"pending_approval","current_approval_level":1,"max_approval_level":2}}`)
	}))
	defer srv.Close()

	plan, err := backend.NewClient(srv.URL).Get(userContext(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPendingApproval, plan.Status)
	assert.Equal(t, 1, plan.CurrentApprovalLevel)
}

func TestClient_WithoutIdentitySendsNoUserHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get(backend.HeaderUserID))
		writeJSON(w, http.StatusOK, `{"data":{"id":"plan-1","status":"draft"}}`)
	}))
	defer srv.Close()

	_, err := backend.NewClient(srv.URL).Get(context.Background(), "plan-1")
	require.NoError(t, err)
}

func TestClient_RejectsUnexpectedShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"items instead of data", `{"items":[{"id":"plan-1"}]}`},
		{"bare object", `{"id":"plan-1","status":"draft"}`},
		{"data and error", `{"data":{"id":"plan-1"},"error":{"code":"X"}}`},
		{"null data", `{"data":null}`},
		{"empty body", ``},
		{"not json", `<html></html>`},
		{"plan without id", `{"data":{"status":"draft"}}`},
		{"error on success status", `{"error":{"code":"X","message":"y"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			}))
			defer srv.Close()

			_, err := backend.NewClient(srv.URL).Get(userContext(), "plan-1")
			require.Error(t, err)
			assert.Equal(t, backend.TextCodeUnexpectedShape, auth.TextCode(err))
		})
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"no plan"}}`, approval.TextCodePlanNotFound},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"AUTH","message":"expired"}}`, backend.TextCodeBackendRejected},
		{"forbidden", http.StatusForbidden, `{"error":{"code":"DENIED","message":"no"}}`, backend.TextCodeBackendForbidden},
		{"server error with envelope", http.StatusInternalServerError, `{"error":{"code":"BOOM","message":"db down"}}`, backend.TextCodeBackendUnavailable},
		{"server error html", http.StatusBadGateway, `<html>`, backend.TextCodeBackendUnavailable},
		{"bare conflict", http.StatusConflict, ``, approval.TextCodeStaleApprovalLevel},
		{"conflict with text body", http.StatusConflict, `level changed`, approval.TextCodeStaleApprovalLevel},
		{"not found html", http.StatusNotFound, `<html>`, approval.TextCodePlanNotFound},
		{"bare unauthorized", http.StatusUnauthorized, ``, backend.TextCodeBackendRejected},
		{"unprocessable without envelope", http.StatusUnprocessableEntity, `{"detail":"bad"}`, approval.TextCodeInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			_, err := backend.NewClient(srv.URL).Get(userContext(), "plan-1")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, auth.TextCode(err))
		})
	}
}

func TestClient_ApplySendsExpectedState(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/plans/plan-1/transitions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, `{"data":{"id":"plan-1"}}`)
	}))
	defer srv.Close()

	before := approval.Plan{ID: "plan-1", Status: approval.StatusPendingApproval, CurrentApprovalLevel: 1, MaxApprovalLevel: 2}
	after := before
	after.Status = approval.StatusApproved
	after.CurrentApprovalLevel = 2

	err := backend.NewClient(srv.URL).Apply(userContext(), approval.Transition{
		Before: before,
		After:  after,
		Action: approval.Action{ID: "a-1", PlanID: "plan-1", Action: approval.ActionApprove, LevelActedOn: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "pending_approval", got["expected_status"])
	assert.Equal(t, float64(1), got["expected_level"])
	assert.Equal(t, "approved", got["plan"].(map[string]any)["status"])
	assert.Equal(t, "approve", got["action"].(map[string]any)["action"])
}

func TestClient_ApplyAcceptsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := backend.NewClient(srv.URL).Apply(userContext(), approval.Transition{
		Before: approval.Plan{ID: "plan-1"},
	})
	assert.NoError(t, err)
}

// conflictBackend mimics the backend's conditional write.
type conflictBackend struct {
	mu    sync.Mutex
	level int
	max   int
}

func (b *conflictBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		status := "pending_approval"
		if b.level >= b.max {
			status = "approved"
		}
		raw, _ := json.Marshal(map[string]any{"data": map[string]any{
			"id": "plan-1", "status": status, "current_approval_level": b.level, "max_approval_level": b.max,
		}})
		writeJSON(w, http.StatusOK, string(raw))
	case http.MethodPost:
		var body struct {
			ExpectedLevel int           `json:"expected_level"`
			Plan          approval.Plan `json:"plan"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ExpectedLevel != b.level {
			writeJSON(w, http.StatusConflict, `{"error":{"code":"STALE","message":"level changed"}}`)
			return
		}
		b.level = body.Plan.CurrentApprovalLevel
		writeJSON(w, http.StatusOK, `{"data":{"id":"plan-1"}}`)
	}
}

func TestClient_ConflictIsStale(t *testing.T) {
	be := &conflictBackend{level: 1, max: 2}
	srv := httptest.NewServer(be)
	defer srv.Close()

	client := backend.NewClient(srv.URL)
	ctx := userContext()

	plan, err := client.Get(ctx, "plan-1")
	require.NoError(t, err)

	sm := approval.NewStateMachine(client)
	_, err = sm.Act(ctx, approval.Actor{ID: "u-1", ApprovalLevel: 1, CanApprove: true}, "plan-1", approval.ActionApprove)
	require.NoError(t, err)

	// replay the transition computed from the stale read
	after, err := approval.Next(plan, approval.ActionApprove, 1)
	require.NoError(t, err)
	err = client.Apply(ctx, approval.Transition{Before: plan, After: after})
	assert.True(t, approval.IsStale(err))
	assert.Equal(t, 2, be.level)
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

	_, err := backend.NewClient(srv.URL, backend.WithTimeout(50*time.Millisecond)).History(userContext(), "plan-1")
	require.Error(t, err)
	assert.Equal(t, backend.TextCodeBackendUnavailable, auth.TextCode(err))
}

func TestClient_History(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plans/plan%2F1/actions", r.URL.EscapedPath())
		writeJSON(w, http.StatusOK, `{"data":[{"id":"a-1","plan_id":"plan/1","actor_id":"u-0","action":"approve","level_acted_on":0,"occurred_at":"2024-03-01T09:00:00Z"}]}`)
	}))
	defer srv.Close()

	actions, err := backend.NewClient(srv.URL).History(userContext(), "plan/1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, approval.ActionApprove, actions[0].Action)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	}))
	defer empty.Close()

	actions, err = backend.NewClient(empty.URL).History(userContext(), "plan-1")
	require.NoError(t, err)
	assert.NotNil(t, actions)
	assert.Empty(t, actions)
}

func TestClient_ApplyBareConflictIsStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	err := backend.NewClient(srv.URL).Apply(userContext(), approval.Transition{
		Before: approval.Plan{ID: "plan-1", Status: approval.StatusPendingApproval, CurrentApprovalLevel: 1},
	})
	assert.True(t, approval.IsStale(err))
}

func TestClient_Pending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plans/pending", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("level"))
		writeJSON(w, http.StatusOK, `{"data":[{"id":"plan-1","status":"pending_approval","current_approval_level":1,"max_approval_level":2}]}`)
	}))
	defer srv.Close()

	plans, err := backend.NewClient(srv.URL).Pending(userContext(), 1)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "plan-1", plans[0].ID)
}
