package approval

import (
	"context"
	"sort"
	"sync"
)

// Store persists plans and their action log. Apply must write the new plan
// state and the action atomically, and only when the stored status and
// current level still equal t.Before; otherwise it returns
// ErrStaleApprovalLevel.
type Store interface {
	Get(ctx context.Context, planID string) (Plan, error)
	Apply(ctx context.Context, t Transition) error
	History(ctx context.Context, planID string) ([]Action, error)
}

// PendingLister is implemented by stores that can list the approval queue:
// plans in pending_approval whose current level equals level, oldest first.
type PendingLister interface {
	Pending(ctx context.Context, level int) ([]Plan, error)
}

// MemoryStore is a mutex guarded Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	plans   map[string]Plan
	actions map[string][]Action
}

// NewMemoryStore returns a store seeded with plans.
func NewMemoryStore(plans ...Plan) *MemoryStore {
	s := &MemoryStore{
		plans:   map[string]Plan{},
		actions: map[string][]Action{},
	}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

// Put inserts or replaces a plan outside the approval flow.
func (s *MemoryStore) Put(plan Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, planID string) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return Plan{}, withMetadata(ErrPlanNotFound, map[string]any{"plan_id": planID})
	}
	return p, nil
}

// Apply implements Store.
func (s *MemoryStore) Apply(ctx context.Context, t Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.plans[t.Before.ID]
	if !ok {
		return withMetadata(ErrPlanNotFound, map[string]any{"plan_id": t.Before.ID})
	}

	if current.Status != t.Before.Status || current.CurrentApprovalLevel != t.Before.CurrentApprovalLevel {
		return withMetadata(ErrStaleApprovalLevel, map[string]any{
			"plan_id":        t.Before.ID,
			"expected_level": t.Before.CurrentApprovalLevel,
			"actual_level":   current.CurrentApprovalLevel,
			"actual_status":  current.Status,
		})
	}

	s.plans[t.After.ID] = t.After
	s.actions[t.After.ID] = append(s.actions[t.After.ID], t.Action)
	return nil
}

// History implements Store. Actions are returned oldest first.
func (s *MemoryStore) History(_ context.Context, planID string) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID]; !ok {
		return nil, withMetadata(ErrPlanNotFound, map[string]any{"plan_id": planID})
	}

	out := append([]Action(nil), s.actions[planID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// Pending implements PendingLister.
func (s *MemoryStore) Pending(_ context.Context, level int) ([]Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Plan{}
	for _, p := range s.plans {
		if p.Status == StatusPendingApproval && p.CurrentApprovalLevel == level {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return submittedBefore(out[i], out[j])
	})
	return out, nil
}

func submittedBefore(a, b Plan) bool {
	switch {
	case a.SubmittedAt == nil && b.SubmittedAt == nil:
		return a.ID < b.ID
	case a.SubmittedAt == nil:
		return true
	case b.SubmittedAt == nil:
		return false
	case a.SubmittedAt.Equal(*b.SubmittedAt):
		return a.ID < b.ID
	}
	return a.SubmittedAt.Before(*b.SubmittedAt)
}
