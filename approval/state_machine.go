package approval

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/oklog/ulid/v2"
)

// Activity event types published for plan transitions.
const (
	ActivityEventPlanSubmitted         auth.ActivityEventType = "approval.plan.submitted"
	ActivityEventPlanApproved          auth.ActivityEventType = "approval.plan.approved"
	ActivityEventPlanAdvanced          auth.ActivityEventType = "approval.plan.advanced"
	ActivityEventPlanRejected          auth.ActivityEventType = "approval.plan.rejected"
	ActivityEventPlanRevisionRequested auth.ActivityEventType = "approval.plan.revision_requested"
)

// TransitionContext is passed into hooks.
type TransitionContext struct {
	Actor  Actor
	Before Plan
	After  Plan
	Action Action
}

// TransitionHook is executed before or after a transition is stored.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// Observer records transition outcomes.
type Observer interface {
	ObserveApproval(action, result string)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*StateMachine)

// TransitionOption customizes a single Submit or Act call.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	comment     string
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *StateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish plan events.
func WithStateMachineActivitySink(sink auth.ActivitySink) StateMachineOption {
	return func(sm *StateMachine) {
		if sink != nil {
			sm.activitySink = sink
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger auth.Logger) StateMachineOption {
	return func(sm *StateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *StateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineMetrics sets the transition observer.
func WithStateMachineMetrics(m Observer) StateMachineOption {
	return func(sm *StateMachine) {
		sm.metrics = m
	}
}

// WithComment attaches a comment to the action record.
func WithComment(comment string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.comment = comment
	}
}

// WithBeforeTransitionHook adds a hook executed before the store write.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the store write succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// StateMachine moves plans through the approval chain.
type StateMachine struct {
	store            Store
	now              func() time.Time
	entropyMu        sync.Mutex
	entropy          *ulid.MonotonicEntropy
	activitySink     auth.ActivitySink
	logger           auth.Logger
	hookErrorHandler HookErrorHandler
	metrics          Observer
}

// NewStateMachine returns a state machine writing through store.
func NewStateMachine(store Store, opts ...StateMachineOption) *StateMachine {
	sm := &StateMachine{
		store:        store,
		now:          time.Now,
		entropy:      ulid.Monotonic(rand.Reader, 0),
		activitySink: auth.ActivitySinkFunc(nil),
		logger:       auth.ResolveLogger("approval", nil, nil),
		hookErrorHandler: func(_ context.Context, _ TransitionHookPhase, err error, _ TransitionContext) error {
			return err
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// transitions lists the actions allowed from each status.
var transitions = map[Status]map[ActionType]struct{}{
	StatusDraft: {
		ActionSubmit: {},
	},
	StatusInRevision: {
		ActionSubmit: {},
	},
	StatusPendingApproval: {
		ActionApprove:         {},
		ActionReject:          {},
		ActionRequestRevision: {},
	},
}

// Next computes the plan state after action by an actor at actorLevel. It
// has no side effects. Timestamps are left to the caller.
//
// Approving at the last level (current+1 reaching max) approves the plan with
// current level set to max. Reject and request_revision keep the level so a
// resubmission resumes at the same step.
func Next(plan Plan, action ActionType, actorLevel int) (Plan, error) {
	if _, ok := transitions[plan.Status][action]; !ok {
		return plan, withMetadata(ErrInvalidTransition, map[string]any{
			"plan_id": plan.ID,
			"status":  plan.Status,
			"action":  action,
		})
	}

	next := plan

	switch action {
	case ActionSubmit:
		next.Status = StatusPendingApproval
		if plan.Status == StatusDraft {
			next.CurrentApprovalLevel = 0
		}
		return next, nil
	}

	if standing := Resolve(actorLevel, plan.CurrentApprovalLevel); standing != ReadyToAct {
		return plan, withMetadata(ErrInvalidTransition, map[string]any{
			"plan_id":     plan.ID,
			"standing":    standing.String(),
			"actor_level": actorLevel,
			"plan_level":  plan.CurrentApprovalLevel,
		})
	}

	switch action {
	case ActionApprove:
		level := plan.CurrentApprovalLevel + 1
		if level >= plan.MaxApprovalLevel {
			next.Status = StatusApproved
			next.CurrentApprovalLevel = plan.MaxApprovalLevel
		} else {
			next.CurrentApprovalLevel = level
		}
	case ActionReject, ActionRequestRevision:
		next.Status = StatusInRevision
	}

	return next, nil
}

// Submit moves a draft or in revision plan into the approval chain.
func (sm *StateMachine) Submit(ctx context.Context, actor Actor, planID string, opts ...TransitionOption) (Plan, error) {
	if !actor.CanCreateBudgetPlan {
		sm.observe(ActionSubmit, ErrCannotSubmit)
		return Plan{}, withMetadata(ErrCannotSubmit, map[string]any{"role": actor.RoleCode})
	}
	return sm.run(ctx, actor, planID, ActionSubmit, opts...)
}

// Act applies approve, reject or request_revision. The actor's level is
// checked against the plan as read and again by the store at write time.
func (sm *StateMachine) Act(ctx context.Context, actor Actor, planID string, action ActionType, opts ...TransitionOption) (Plan, error) {
	if action == ActionSubmit {
		return sm.Submit(ctx, actor, planID, opts...)
	}
	if !actor.CanApprove {
		sm.observe(action, ErrNotApprover)
		return Plan{}, withMetadata(ErrNotApprover, map[string]any{"role": actor.RoleCode})
	}
	return sm.run(ctx, actor, planID, action, opts...)
}

// History returns the action log of a plan.
func (sm *StateMachine) History(ctx context.Context, planID string) ([]Action, error) {
	return sm.store.History(ctx, planID)
}

// Pending lists the plans waiting on level. The store must implement
// PendingLister.
func (sm *StateMachine) Pending(ctx context.Context, level int) ([]Plan, error) {
	lister, ok := sm.store.(PendingLister)
	if !ok {
		return nil, ErrQueueUnsupported
	}
	return lister.Pending(ctx, level)
}

// Plan returns the stored plan.
func (sm *StateMachine) Plan(ctx context.Context, planID string) (Plan, error) {
	return sm.store.Get(ctx, planID)
}

func (sm *StateMachine) run(ctx context.Context, actor Actor, planID string, action ActionType, opts ...TransitionOption) (Plan, error) {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	before, err := sm.store.Get(ctx, planID)
	if err != nil {
		sm.observe(action, err)
		return Plan{}, err
	}

	after, err := Next(before, action, actor.ApprovalLevel)
	if err != nil {
		sm.observe(action, err)
		return Plan{}, err
	}

	now := sm.now().UTC()
	after.UpdatedAt = now
	if action == ActionSubmit {
		after.SubmittedAt = &now
	}

	record := Action{
		ID:                 sm.newID(now),
		PlanID:             before.ID,
		ActorID:            actor.ID,
		ActorRole:          actor.RoleCode,
		ActorApprovalLevel: actor.ApprovalLevel,
		Action:             action,
		LevelActedOn:       before.CurrentApprovalLevel,
		FromStatus:         before.Status,
		ToStatus:           after.Status,
		Comment:            options.comment,
		OccurredAt:         now,
	}

	tc := TransitionContext{Actor: actor, Before: before, After: after, Action: record}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		sm.observe(action, err)
		return Plan{}, err
	}

	if err := sm.store.Apply(ctx, Transition{Before: before, After: after, Action: record}); err != nil {
		sm.logger.Warn("approval transition not stored", "plan_id", planID, "action", action, "error", err)
		sm.observe(action, err)
		return Plan{}, err
	}

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		sm.observe(action, err)
		return after, err
	}

	sm.observe(action, nil)
	sm.recordActivity(ctx, tc)

	return after, nil
}

func (sm *StateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *StateMachine) newID(at time.Time) string {
	sm.entropyMu.Lock()
	defer sm.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), sm.entropy).String()
}

func (sm *StateMachine) recordActivity(ctx context.Context, tc TransitionContext) {
	if sm.activitySink == nil {
		return
	}

	event := auth.ActivityEvent{
		EventType:  eventType(tc),
		Actor:      auth.ActorRef{ID: tc.Actor.ID, Type: "user"},
		UserID:     tc.Actor.ID,
		OccurredAt: tc.Action.OccurredAt,
		Metadata: map[string]any{
			"plan_id":        tc.Before.ID,
			"action_id":      tc.Action.ID,
			"level_acted_on": tc.Action.LevelActedOn,
			"from_status":    string(tc.Before.Status),
			"to_status":      string(tc.After.Status),
			"level":          tc.After.CurrentApprovalLevel,
		},
	}

	if err := sm.activitySink.Record(ctx, event); err != nil {
		sm.logger.Warn("activity sink record error", "error", err)
	}
}

func (sm *StateMachine) observe(action ActionType, err error) {
	if sm.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = auth.TextCode(err)
		if result == "" {
			result = "error"
		}
	}
	sm.metrics.ObserveApproval(string(action), result)
}

func eventType(tc TransitionContext) auth.ActivityEventType {
	switch tc.Action.Action {
	case ActionSubmit:
		return ActivityEventPlanSubmitted
	case ActionReject:
		return ActivityEventPlanRejected
	case ActionRequestRevision:
		return ActivityEventPlanRevisionRequested
	}
	if tc.After.Status == StatusApproved {
		return ActivityEventPlanApproved
	}
	return ActivityEventPlanAdvanced
}
