package event

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Payload keys shared by publishers and subscribers
const (
	KeyAction     = "action"
	KeyConfidence = "confidence"
	KeyTaskID     = "task_id"
	KeyItemID     = "item_id"
	KeyStatus     = "status"
	KeyCount      = "count"
	KeyError      = "error"
	KeyRationale  = "rationale"
)

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	UserID        string                 `json:"user_id"`
	AgentType     string                 `json:"agent_type,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// StreamTuple is the compact form pushed to real-time listeners
type StreamTuple struct {
	AgentType  string  `json:"agentType"`
	UserID     string  `json:"userId"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, userID, agentType string, payload map[string]interface{}) *Event {
	return &Event{
		ID:            generateID(),
		Type:          eventType,
		UserID:        userID,
		AgentType:     agentType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: generateID(),
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, userID, agentType string, payload map[string]interface{}, correlationID string) *Event {
	e := NewEvent(eventType, userID, agentType, payload)
	e.CorrelationID = correlationID
	return e
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	copied := *e
	copied.Payload = newPayload
	return &copied
}

// Tuple extracts the {agentType, userId, action, confidence} stream form
func (e *Event) Tuple() StreamTuple {
	action := e.GetPayloadString(KeyAction)
	if action == "" {
		action = e.Type.String()
	}
	return StreamTuple{
		AgentType:  e.AgentType,
		UserID:     e.UserID,
		Action:     action,
		Confidence: e.GetPayloadFloat(KeyConfidence),
	}
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadFloat retrieves a float64 value from the payload
func (e *Event) GetPayloadFloat(key string) float64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0.0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
