package entity

// AgentType identifies the strategy that handles a task
type AgentType string

// Known agent types
const (
	AgentTypeJobSearch      AgentType = "job_search"
	AgentTypePipeline       AgentType = "pipeline"
	AgentTypeInterviewPrep  AgentType = "interview_prep"
	AgentTypeNetworking     AgentType = "networking"
	AgentTypeApplicationBot AgentType = "application_submit"
)

// String returns the string representation of the agent type
func (a AgentType) String() string {
	return string(a)
}

// Queue names
const (
	QueueAgent   = "agent"
	QueueGeneral = "general"
)

// Maintenance job names carried on the general queue
const (
	JobSweepExpiredApprovals = "approvals.sweep_expired"
)

// Retry defaults applied to every route unless overridden
const (
	DefaultMaxRetries = 2
)

// Activity event types
const (
	ActivityStepCompleted    = "agent.step_completed"
	ActivityActionExecuted   = "agent.action_executed"
	ActivitySuggestion       = "agent.suggestion"
	ActivityApprovalCreated  = "agent.approval.created"
	ActivityApprovalResolved = "agent.approval.resolved"
	ActivityApprovalExpired  = "agent.approval.expired"
	ActivityTaskFailed       = "agent.task.failed"
	ActivityActionFailed     = "agent.action.failed"
)
