package entity

import "time"

// Severity of an activity record
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ActivityRecord is an append-only audit trail entry used for user-facing
// timelines and failure diagnostics. Never mutated after creation.
type ActivityRecord struct {
	ID        int64                  `json:"id"`
	UserID    string                 `json:"user_id"`
	AgentType AgentType              `json:"agent_type,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	EventType string                 `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewActivityRecord creates a record stamped with the current time
func NewActivityRecord(userID string, agentType AgentType, eventType string, severity Severity, data map[string]interface{}) *ActivityRecord {
	return &ActivityRecord{
		UserID:    userID,
		AgentType: agentType,
		EventType: eventType,
		Severity:  severity,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}
