package entity

import "time"

// ActionKind classifies a side-effecting action proposed by a strategy
type ActionKind string

const (
	ActionKindNone              ActionKind = "none"
	ActionKindDraft             ActionKind = "draft"
	ActionKindPipelineUpdate    ActionKind = "pipeline_update"
	ActionKindApplicationSubmit ActionKind = "application_submit"

	// ActionKindOutreach is direct external messaging. It always requires
	// human approval regardless of the configured autonomy level.
	ActionKindOutreach ActionKind = "outreach"
)

// AllActionKinds lists every known action kind
var AllActionKinds = []ActionKind{
	ActionKindNone,
	ActionKindDraft,
	ActionKindPipelineUpdate,
	ActionKindApplicationSubmit,
	ActionKindOutreach,
}

// IsValid checks if the action kind is one of the defined constants
func (k ActionKind) IsValid() bool {
	for _, known := range AllActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ProposedAction is a side effect a strategy wants to take.
// Context is a human-readable summary persisted verbatim on the approval item.
type ProposedAction struct {
	Kind    ActionKind             `json:"kind"`
	Name    string                 `json:"name"`
	Payload map[string]interface{} `json:"payload"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// AgentOutput is the result of one agent run. Immutable once written.
type AgentOutput struct {
	ID               int64                  `json:"id"`
	TaskID           string                 `json:"task_id"`
	AgentType        AgentType              `json:"agent_type"`
	UserID           string                 `json:"user_id"`
	Action           string                 `json:"action"`
	Rationale        string                 `json:"rationale"`
	Confidence       float64                `json:"confidence"`
	Data             map[string]interface{} `json:"data"`
	RequiresApproval bool                   `json:"requires_approval"`
	CreatedAt        time.Time              `json:"created_at"`

	// Proposed is not persisted as a column; its outcome is reflected in
	// Data and RequiresApproval once the approval gate runs.
	Proposed *ProposedAction `json:"proposed,omitempty"`
}

// HasSideEffect reports whether the output proposes an action that touches the outside world
func (o *AgentOutput) HasSideEffect() bool {
	return o.Proposed != nil && o.Proposed.Kind != ActionKindNone
}

// SetData sets a key in the output data, allocating the map if needed
func (o *AgentOutput) SetData(key string, value interface{}) {
	if o.Data == nil {
		o.Data = make(map[string]interface{})
	}
	o.Data[key] = value
}
