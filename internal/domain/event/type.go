package event

// Type identifies the type of domain event
type Type string

const (
	TypeStepCompleted    Type = "agent.step_completed"
	TypeActionExecuted   Type = "agent.action_executed"
	TypeApprovalCreated  Type = "agent.approval.created"
	TypeApprovalResolved Type = "agent.approval.resolved"
	TypeApprovalExpired  Type = "agent.approval.expired"
	TypeTaskFailed       Type = "agent.task.failed"
	TypeBrakeChanged     Type = "brake.changed"
	TypeAutonomyChanged  Type = "autonomy.changed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeStepCompleted,
		TypeActionExecuted,
		TypeApprovalCreated,
		TypeApprovalResolved,
		TypeApprovalExpired,
		TypeTaskFailed,
		TypeBrakeChanged,
		TypeAutonomyChanged:
		return true
	default:
		return false
	}
}

// AllTypes lists every event type, used by subscribers that relay everything
func AllTypes() []Type {
	return []Type{
		TypeStepCompleted,
		TypeActionExecuted,
		TypeApprovalCreated,
		TypeApprovalResolved,
		TypeApprovalExpired,
		TypeTaskFailed,
		TypeBrakeChanged,
		TypeAutonomyChanged,
	}
}
