package workflow

import "sync"

var (
	runBuilder      StateMachineBuilder
	runBuilderOnce  sync.Once
	approvalBuilder StateMachineBuilder
	approvalOnce    sync.Once
)

// NewRunLifecycle returns a machine in RECEIVED that only permits the
// ordered run steps. Validation and brake failures go to REJECTED, a
// strategy error goes to FAILED.
func NewRunLifecycle() StateMachine {
	runBuilderOnce.Do(func() {
		b := NewBuilder()
		b.Configure(StateReceived).
			Permit(TriggerValidate, StateValidated).
			Permit(TriggerReject, StateRejected)
		b.Configure(StateValidated).
			Permit(TriggerClearBrake, StateBrakeCleared).
			Permit(TriggerReject, StateRejected)
		b.Configure(StateBrakeCleared).
			Permit(TriggerExecute, StateExecuted).
			Permit(TriggerFail, StateFailed)
		b.Configure(StateExecuted).
			Permit(TriggerGate, StateGated).
			Permit(TriggerFail, StateFailed)
		b.Configure(StateGated).
			Permit(TriggerRecord, StateRecorded)
		b.Configure(StateRecorded).
			Permit(TriggerPublish, StatePublished)
		runBuilder = b
	})
	return runBuilder.Build(StateReceived)
}

// NewApprovalLifecycle returns a machine positioned at the item's current
// status. Terminal statuses permit nothing.
func NewApprovalLifecycle(current State) StateMachine {
	approvalOnce.Do(func() {
		b := NewBuilder()
		b.Configure(StatePending).
			Permit(TriggerApprove, StateApproved).
			Permit(TriggerEditApprove, StateEditedApproved).
			Permit(TriggerDecline, StateDeclined).
			Permit(TriggerExpire, StateExpired)
		approvalBuilder = b
	})
	return approvalBuilder.Build(current)
}
