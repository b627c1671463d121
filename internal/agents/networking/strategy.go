// Package networking drafts outreach messages to contacts. Outreach always
// goes through human approval; Perform delivers the approved message at
// most once per task.
package networking

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// Action names
const (
	ActionOutreachDrafted = "outreach_drafted"
	ActionSendOutreach    = "send_outreach"
)

// Payload keys of the proposed action
const (
	KeyIdempotency   = "idempotency_key"
	KeyReceiveIDType = "receive_id_type"
	KeyReceiveID     = "receive_id"
	KeyText          = "text"
)

// DefaultSentCacheSize bounds the remembered idempotency keys
const DefaultSentCacheSize = 4096

// Contact is who the message is for
type Contact struct {
	Name          string
	Company       string
	Note          string
	ReceiveIDType string
	ReceiveID     string
}

// Drafter writes the message body
type Drafter interface {
	Draft(ctx context.Context, contact Contact) (string, error)
}

// DrafterFunc adapts a function to Drafter
type DrafterFunc func(ctx context.Context, contact Contact) (string, error)

// Draft implements Drafter
func (f DrafterFunc) Draft(ctx context.Context, contact Contact) (string, error) { return f(ctx, contact) }

// Strategy implements port.Strategy and port.Validator
type Strategy struct {
	drafter Drafter
	sender  port.MessageSender
	logger  port.Logger

	// mu serializes Perform so the sent check and the send are atomic
	mu   sync.Mutex
	sent *lru.Cache[string, string]
}

// New creates the strategy. drafter may be nil, in which case a plain
// template message is proposed.
func New(drafter Drafter, sender port.MessageSender, cacheSize int, logger port.Logger) (*Strategy, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSentCacheSize
	}
	sent, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create sent cache: %w", err)
	}
	return &Strategy{drafter: drafter, sender: sender, logger: logger, sent: sent}, nil
}

// Validate checks the contact has a name and a destination
func (s *Strategy) Validate(payload map[string]interface{}) error {
	_, err := parseContact(payload)
	return err
}

// Execute drafts the message and proposes sending it
func (s *Strategy) Execute(ctx context.Context, inv port.Invocation) (*entity.AgentOutput, error) {
	contact, err := parseContact(inv.Payload)
	if err != nil {
		return nil, err
	}

	text, confidence := s.draft(ctx, contact)

	return &entity.AgentOutput{
		Action:     ActionOutreachDrafted,
		Rationale:  fmt.Sprintf("outreach drafted for %s", contact.Name),
		Confidence: confidence,
		Data: map[string]interface{}{
			"recipient": contact.Name,
			"company":   contact.Company,
		},
		RequiresApproval: true,
		Proposed: &entity.ProposedAction{
			Kind: entity.ActionKindOutreach,
			Name: ActionSendOutreach,
			Payload: map[string]interface{}{
				KeyIdempotency:   inv.TaskID,
				KeyReceiveIDType: contact.ReceiveIDType,
				KeyReceiveID:     contact.ReceiveID,
				KeyText:          text,
			},
			Context: map[string]interface{}{
				"recipient": contact.Name,
				"company":   contact.Company,
				"message":   text,
			},
		},
	}, nil
}

func (s *Strategy) draft(ctx context.Context, contact Contact) (string, float64) {
	if s.drafter != nil {
		text, err := s.drafter.Draft(ctx, contact)
		if err == nil && text != "" {
			return text, 0.8
		}
		s.logger.Warn("Drafter failed, using template", "recipient", contact.Name, "error", err)
	}

	text := fmt.Sprintf("Hi %s, I'd love to connect", contact.Name)
	if contact.Company != "" {
		text += fmt.Sprintf(" and hear about your work at %s", contact.Company)
	}
	return text + ".", 0.5
}

// Perform sends the message unless its idempotency key was already sent
func (s *Strategy) Perform(ctx context.Context, userID string, action entity.ProposedAction) error {
	if action.Name != ActionSendOutreach {
		return fmt.Errorf("unsupported action %q", action.Name)
	}
	if s.sender == nil {
		return fmt.Errorf("no message sender configured")
	}

	key, _ := action.Payload[KeyIdempotency].(string)
	receiveIDType, _ := action.Payload[KeyReceiveIDType].(string)
	receiveID, _ := action.Payload[KeyReceiveID].(string)
	text, _ := action.Payload[KeyText].(string)
	if receiveID == "" || text == "" {
		return fmt.Errorf("outreach for user %s is incomplete", userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		if messageID, ok := s.sent.Get(key); ok {
			s.logger.Info("Outreach already sent, skipping", "idempotency_key", key, "message_id", messageID)
			return nil
		}
	}

	messageID, err := s.sender.SendText(ctx, receiveIDType, receiveID, text)
	if err != nil {
		return fmt.Errorf("send outreach: %w", err)
	}
	if key != "" {
		s.sent.Add(key, messageID)
	}
	s.logger.Info("Outreach sent", "user_id", userID, "message_id", messageID)
	return nil
}

func parseContact(payload map[string]interface{}) (Contact, error) {
	raw, ok := payload["contact"].(map[string]interface{})
	if !ok {
		return Contact{}, entity.NewValidationError("contact", "required")
	}
	str := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}

	c := Contact{
		Name:          str("name"),
		Company:       str("company"),
		Note:          str("note"),
		ReceiveIDType: str("receive_id_type"),
		ReceiveID:     str("receive_id"),
	}
	if c.Name == "" {
		return Contact{}, entity.NewValidationError("contact.name", "required")
	}
	if c.ReceiveID == "" {
		return Contact{}, entity.NewValidationError("contact.receive_id", "required")
	}
	if c.ReceiveIDType == "" {
		c.ReceiveIDType = "open_id"
	}
	return c, nil
}

var (
	_ port.Strategy  = (*Strategy)(nil)
	_ port.Validator = (*Strategy)(nil)
)
