package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

// Run lifecycle triggers
const (
	TriggerValidate   Trigger = "VALIDATE"
	TriggerClearBrake Trigger = "CLEAR_BRAKE"
	TriggerExecute    Trigger = "EXECUTE"
	TriggerGate       Trigger = "GATE"
	TriggerRecord     Trigger = "RECORD"
	TriggerPublish    Trigger = "PUBLISH"
	TriggerReject     Trigger = "REJECT"
	TriggerFail       Trigger = "FAIL"
)

// Approval lifecycle triggers
const (
	TriggerApprove     Trigger = "APPROVE"
	TriggerEditApprove Trigger = "EDIT_APPROVE"
	TriggerDecline     Trigger = "DECLINE"
	TriggerExpire      Trigger = "EXPIRE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
