package workflow

// State represents a lifecycle state
type State string

// Run lifecycle states. A run moves strictly forward through these.
const (
	StateReceived     State = "RECEIVED"
	StateValidated    State = "VALIDATED"
	StateBrakeCleared State = "BRAKE_CLEARED"
	StateExecuted     State = "EXECUTED"
	StateGated        State = "GATED"
	StateRecorded     State = "RECORDED"
	StatePublished    State = "PUBLISHED"
	StateRejected     State = "REJECTED"
	StateFailed       State = "FAILED"
)

// Approval item lifecycle states, matching the persisted status values
const (
	StatePending        State = "pending"
	StateApproved       State = "approved"
	StateEditedApproved State = "edited_approved"
	StateDeclined       State = "rejected"
	StateExpired        State = "expired"
)

var validStates = map[State]bool{
	StateReceived:       true,
	StateValidated:      true,
	StateBrakeCleared:   true,
	StateExecuted:       true,
	StateGated:          true,
	StateRecorded:       true,
	StatePublished:      true,
	StateRejected:       true,
	StateFailed:         true,
	StatePending:        true,
	StateApproved:       true,
	StateEditedApproved: true,
	StateDeclined:       true,
	StateExpired:        true,
}

var terminalStates = map[State]bool{
	StatePublished:      true,
	StateRejected:       true,
	StateFailed:         true,
	StateApproved:       true,
	StateEditedApproved: true,
	StateDeclined:       true,
	StateExpired:        true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
