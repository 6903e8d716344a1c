package approval_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/approval"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func pendingPlan(id string, level, max int) approval.Plan {
	return approval.Plan{
		ID:                   id,
		OrganizationID:       "org-1",
		DepartmentID:         "dep-7",
		Title:                "FY25 operations",
		Status:               approval.StatusPendingApproval,
		CurrentApprovalLevel: level,
		MaxApprovalLevel:     max,
		CreatedAt:            fixedNow.Add(-24 * time.Hour),
		UpdatedAt:            fixedNow.Add(-24 * time.Hour),
	}
}

func approver(id string, level int) approval.Actor {
	return approval.Actor{ID: id, RoleCode: "director", ApprovalLevel: level, CanApprove: true}
}

func planner(id string) approval.Actor {
	return approval.Actor{ID: id, RoleCode: "organizer", CanCreateBudgetPlan: true}
}

// barrierStore holds every Get until n callers have read, so concurrent
// actors all see the same snapshot before any of them writes.
type barrierStore struct {
	*approval.MemoryStore
	wg sync.WaitGroup
}

func newBarrierStore(n int, plans ...approval.Plan) *barrierStore {
	s := &barrierStore{MemoryStore: approval.NewMemoryStore(plans...)}
	s.wg.Add(n)
	return s
}

func (s *barrierStore) Get(ctx context.Context, planID string) (approval.Plan, error) {
	p, err := s.MemoryStore.Get(ctx, planID)
	s.wg.Done()
	s.wg.Wait()
	return p, err
}

// racingStore advances the plan right after every read, as if another
// approver won the race.
type racingStore struct {
	*approval.MemoryStore
}

func (s *racingStore) Get(ctx context.Context, planID string) (approval.Plan, error) {
	p, err := s.MemoryStore.Get(ctx, planID)
	if err != nil {
		return p, err
	}
	moved := p
	moved.CurrentApprovalLevel++
	s.MemoryStore.Put(moved)
	return p, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, e auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type approvalCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (a *approvalCounter) ObserveApproval(action, result string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = map[string]int{}
	}
	a.counts[action+":"+result]++
}

func (a *approvalCounter) get(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[key]
}

type fakeContext struct {
	params  map[string]string
	locals  map[any]any
	ctx     context.Context
	body    any
	bindErr error
	status  int
	payload map[string]any
}

func newFakeContext(planID string, identity *auth.Identity) *fakeContext {
	c := &fakeContext{
		params: map[string]string{"id": planID},
		locals: map[any]any{},
		ctx:    context.Background(),
	}
	if identity != nil {
		c.locals[auth.IdentityLocalsKey] = *identity
	}
	return c
}

func (c *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.locals[key] = value[0]
		return value[0]
	}
	return c.locals[key]
}

func (c *fakeContext) Param(key string, defaultValue ...string) string {
	if v, ok := c.params[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *fakeContext) Bind(v any) error {
	if c.bindErr != nil {
		return c.bindErr
	}
	if c.body == nil {
		return nil
	}
	raw, err := json.Marshal(c.body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (c *fakeContext) JSON(code int, v any) error {
	c.status = code
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.payload = map[string]any{}
	return json.Unmarshal(raw, &c.payload)
}

func (c *fakeContext) Context() context.Context { return c.ctx }

// acceptingStore always serves the same pending plan and accepts every
// transition. It takes no lock so concurrent callers are never serialized.
type acceptingStore struct {
	plan approval.Plan
	ids  chan string
}

func (s *acceptingStore) Get(_ context.Context, _ string) (approval.Plan, error) {
	return s.plan, nil
}

func (s *acceptingStore) Apply(_ context.Context, t approval.Transition) error {
	s.ids <- t.Action.ID
	return nil
}

func (s *acceptingStore) History(_ context.Context, _ string) ([]approval.Action, error) {
	return []approval.Action{}, nil
}
