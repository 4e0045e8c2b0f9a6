package subscription

import "fmt"

// State is the reconciler state derived from a Record.
type State string

const (
	StateBasic            State = "basic"
	StateActive           State = "active"
	StatePendingUpgrade   State = "pending_upgrade"
	StatePendingDowngrade State = "pending_downgrade"
	StateCanceling        State = "canceling"
)

// Action is a user-initiated billing operation.
type Action string

const (
	ActionCheckout      Action = "checkout"
	ActionChange        Action = "change"
	ActionCancelPending Action = "cancel_pending"
	ActionCancel        Action = "cancel"
	ActionRenew         Action = "renew"
	ActionPortal        Action = "portal"
)

// State derives the reconciler state. A paid tier without an active
// provider subscription is treated as basic.
func (r *Record) State() State {
	switch {
	case !r.Tier.Paid() || r.Status == StatusInactive:
		return StateBasic
	case r.Status == StatusCanceling:
		return StateCanceling
	case r.PendingUpgrade != nil:
		return StatePendingUpgrade
	case r.PendingDowngrade != nil:
		return StatePendingDowngrade
	default:
		return StateActive
	}
}

var transitions = map[State][]Action{
	StateBasic:            {ActionCheckout, ActionPortal},
	StateActive:           {ActionChange, ActionCancel, ActionPortal},
	StatePendingUpgrade:   {ActionChange, ActionCancelPending, ActionCancel, ActionPortal},
	StatePendingDowngrade: {ActionChange, ActionCancelPending, ActionCancel, ActionPortal},
	StateCanceling:        {ActionRenew, ActionPortal},
}

// CanTransition reports whether action is allowed from state.
func CanTransition(from State, action Action) bool {
	for _, a := range transitions[from] {
		if a == action {
			return true
		}
	}
	return false
}

func checkTransition(r *Record, action Action) error {
	if s := r.State(); !CanTransition(s, action) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, s)
	}
	return nil
}
