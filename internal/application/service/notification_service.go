package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/event"
)

// NotificationService pushes approval events to the messaging channel
type NotificationService interface {
	// HandleApprovalCreated is subscribed to agent.approval.created
	HandleApprovalCreated(ctx context.Context, evt *event.Event) error
	// HandleTaskFailed is subscribed to agent.task.failed
	HandleTaskFailed(ctx context.Context, evt *event.Event) error
}

// NotificationConfig names where notifications go
type NotificationConfig struct {
	ReceiveIDType string
	ReceiveID     string
}

type notificationServiceImpl struct {
	sender port.MessageSender
	config NotificationConfig
	logger Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(sender port.MessageSender, config NotificationConfig, logger Logger) NotificationService {
	if config.ReceiveIDType == "" {
		config.ReceiveIDType = "chat_id"
	}
	return &notificationServiceImpl{
		sender: sender,
		config: config,
		logger: logger,
	}
}

// HandleApprovalCreated tells the user an action is waiting for them
func (s *notificationServiceImpl) HandleApprovalCreated(ctx context.Context, evt *event.Event) error {
	itemID := evt.GetPayloadString(event.KeyItemID)
	msg := BuildApprovalMessage(evt)
	return s.send(ctx, msg, "item_id", itemID, "user_id", evt.UserID)
}

// HandleTaskFailed reports a task that ran out of retries
func (s *notificationServiceImpl) HandleTaskFailed(ctx context.Context, evt *event.Event) error {
	msg := fmt.Sprintf("[Agent failed] %s for user %s\nTask: %s\nError: %s",
		evt.AgentType, evt.UserID, evt.GetPayloadString(event.KeyTaskID), evt.GetPayloadString(event.KeyError))
	return s.send(ctx, msg, "task_id", evt.GetPayloadString(event.KeyTaskID), "user_id", evt.UserID)
}

func (s *notificationServiceImpl) send(ctx context.Context, msg string, keysAndValues ...interface{}) error {
	if s.config.ReceiveID == "" {
		return nil
	}

	messageID, err := s.sender.SendText(ctx, s.config.ReceiveIDType, s.config.ReceiveID, msg)
	if err != nil {
		s.logger.Error("Failed to send notification", append([]interface{}{"error", err}, keysAndValues...)...)
		return fmt.Errorf("send notification: %w", err)
	}

	s.logger.Info("Notification sent", append([]interface{}{"message_id", messageID, "message_length", len(msg)}, keysAndValues...)...)
	return nil
}

// BuildApprovalMessage renders an approval.created event as chat text
func BuildApprovalMessage(evt *event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Approval needed] %s wants to %s\n", evt.AgentType, evt.GetPayloadString(event.KeyAction))
	fmt.Fprintf(&b, "User: %s\n", evt.UserID)
	if kind := evt.GetPayloadString("action_kind"); kind != "" {
		fmt.Fprintf(&b, "Kind: %s\n", kind)
	}

	if summary, ok := evt.Payload["context"].(map[string]interface{}); ok && len(summary) > 0 {
		keys := make([]string, 0, len(summary))
		for k := range summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, summary[k])
		}
	}

	fmt.Fprintf(&b, "Item: %s", evt.GetPayloadString(event.KeyItemID))
	return b.String()
}
