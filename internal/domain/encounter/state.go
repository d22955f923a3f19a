package encounter

import "fmt"

// State is an encounter's position in the clinic pipeline.
type State string

const (
	StateScheduled       State = "scheduled"
	StateCheckedIn       State = "checked_in"
	StateRoomed          State = "roomed"
	StateInExam          State = "in_exam"
	StatePendingOrders   State = "pending_orders"
	StateAwaitingResults State = "awaiting_results"
	StateTreatment       State = "treatment"
	StateCheckout        State = "checkout"
	StateCompleted       State = "completed"
	StateNoShow          State = "no_show"
	StateCancelled       State = "cancelled"
)

// progression is the normal order of a visit.
var progression = []State{
	StateScheduled,
	StateCheckedIn,
	StateRoomed,
	StateInExam,
	StatePendingOrders,
	StateAwaitingResults,
	StateTreatment,
	StateCheckout,
	StateCompleted,
}

var stateDisplay = map[State]string{
	StateScheduled:       "Scheduled",
	StateCheckedIn:       "Checked In",
	StateRoomed:          "Roomed",
	StateInExam:          "In Exam",
	StatePendingOrders:   "Pending Orders",
	StateAwaitingResults: "Awaiting Results",
	StateTreatment:       "Treatment",
	StateCheckout:        "Checkout",
	StateCompleted:       "Completed",
	StateNoShow:          "No Show",
	StateCancelled:       "Cancelled",
}

func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return st, nil
}

func (s State) Valid() bool {
	_, ok := stateDisplay[s]
	return ok
}

func (s State) Display() string {
	if d, ok := stateDisplay[s]; ok {
		return d
	}
	return string(s)
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateNoShow || s == StateCancelled
}

// significant states produce timeline events flagged for attention.
func (s State) significant() bool {
	return s == StateInExam || s == StateCompleted || s == StateCancelled
}

func (s State) rank() int {
	for i, st := range progression {
		if st == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether from may move to to. Forward moves may skip
// states; no_show and cancelled are reachable from any non-terminal state;
// terminal states are final.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StateNoShow || to == StateCancelled {
		return true
	}
	return to.rank() > from.rank()
}

// ActiveStates lists the non-terminal states in pipeline order.
func ActiveStates() []State {
	out := make([]State, 0, len(progression))
	for _, s := range progression {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}
