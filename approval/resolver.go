package approval

// Standing is an actor's position relative to the pending approval step.
type Standing int

const (
	// ReadyToAct means the plan is waiting on this actor's level.
	ReadyToAct Standing = iota
	// WaitingOnEarlierLevel means lower levels still have to sign off.
	WaitingOnEarlierLevel
	// AlreadyActed means this actor's level has passed.
	AlreadyActed
)

func (s Standing) String() string {
	switch s {
	case ReadyToAct:
		return "ready_to_act"
	case WaitingOnEarlierLevel:
		return "waiting_on_earlier_level"
	default:
		return "already_acted"
	}
}

// MarshalText renders the standing by name.
func (s Standing) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resolve compares the actor's level to the plan's current level. It does
// not look at can_approve; see Evaluate.
func Resolve(actorLevel, planLevel int) Standing {
	switch {
	case actorLevel == planLevel:
		return ReadyToAct
	case actorLevel > planLevel:
		return WaitingOnEarlierLevel
	default:
		return AlreadyActed
	}
}

// Permission is what the UI needs to render the action controls for a plan.
type Permission struct {
	PlanID    string       `json:"plan_id"`
	Standing  Standing     `json:"standing"`
	CanAct    bool         `json:"can_act"`
	CanSubmit bool         `json:"can_submit"`
	Actions   []ActionType `json:"actions"`
	Reason    string       `json:"reason,omitempty"`
}

// Evaluate layers the status and can_approve gates over Resolve.
func Evaluate(actor Actor, plan Plan) Permission {
	perm := Permission{
		PlanID:   plan.ID,
		Standing: Resolve(actor.ApprovalLevel, plan.CurrentApprovalLevel),
		Actions:  []ActionType{},
	}

	if actor.CanCreateBudgetPlan && (plan.Status == StatusDraft || plan.Status == StatusInRevision) {
		perm.CanSubmit = true
		perm.Actions = append(perm.Actions, ActionSubmit)
	}

	switch {
	case plan.Status != StatusPendingApproval:
		perm.Reason = "plan is " + string(plan.Status)
	case !actor.CanApprove:
		perm.Reason = "role cannot approve"
	case perm.Standing != ReadyToAct:
		perm.Reason = perm.Standing.String()
	default:
		perm.CanAct = true
		perm.Actions = append(perm.Actions, ActionApprove, ActionReject, ActionRequestRevision)
	}

	return perm
}
