package approval

import (
	"net/http"

	auth "github.com/goliatone/go-budget-auth"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidTransition  = "INVALID_TRANSITION"
	TextCodeStaleApprovalLevel = "STALE_APPROVAL_LEVEL"
	TextCodePlanNotFound       = "PLAN_NOT_FOUND"
	TextCodeNotApprover        = "NOT_AN_APPROVER"
	TextCodeCannotSubmit       = "CANNOT_SUBMIT_PLAN"
	TextCodeQueueUnsupported   = "PENDING_QUEUE_UNSUPPORTED"
)

// ErrInvalidTransition is returned when the plan state or the actor's
// standing does not allow the action.
var ErrInvalidTransition = goerrors.New("invalid plan transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrStaleApprovalLevel is returned when the plan changed between read and
// write. Callers re-fetch; nothing retries automatically.
var ErrStaleApprovalLevel = goerrors.New("plan approval level changed", goerrors.CategoryConflict).
	WithTextCode(TextCodeStaleApprovalLevel).
	WithCode(goerrors.CodeConflict)

// ErrPlanNotFound is returned by stores for unknown plan ids.
var ErrPlanNotFound = goerrors.New("plan not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePlanNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrNotApprover is returned when the actor's role cannot approve.
var ErrNotApprover = goerrors.New("role cannot approve plans", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotApprover).
	WithCode(goerrors.CodeForbidden)

// ErrCannotSubmit is returned when the actor's role cannot create plans.
var ErrCannotSubmit = goerrors.New("role cannot submit plans", goerrors.CategoryAuthz).
	WithTextCode(TextCodeCannotSubmit).
	WithCode(goerrors.CodeForbidden)

// ErrQueueUnsupported is returned when the store cannot list pending plans.
var ErrQueueUnsupported = goerrors.New("plan store has no pending queue", goerrors.CategoryOperation).
	WithTextCode(TextCodeQueueUnsupported).
	WithCode(http.StatusNotImplemented)

func withMetadata(base *goerrors.Error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	if len(meta) == 0 {
		return clone
	}
	return clone.WithMetadata(meta)
}

// IsStale reports whether err is a lost optimistic write.
func IsStale(err error) bool {
	return auth.HasTextCode(err, TextCodeStaleApprovalLevel)
}

// IsNotFound reports whether err is an unknown plan.
func IsNotFound(err error) bool {
	return auth.HasTextCode(err, TextCodePlanNotFound)
}

// NewPlanNotFound is for Store implementations outside this package.
func NewPlanNotFound(planID string) error {
	return withMetadata(ErrPlanNotFound, map[string]any{"plan_id": planID})
}

// NewStaleApprovalLevel is for Store implementations outside this package.
func NewStaleApprovalLevel(planID string, expectedLevel int) error {
	return withMetadata(ErrStaleApprovalLevel, map[string]any{
		"plan_id":        planID,
		"expected_level": expectedLevel,
	})
}

// NewInvalidTransition is for Store implementations outside this package.
func NewInvalidTransition(meta map[string]any) error {
	return withMetadata(ErrInvalidTransition, meta)
}
