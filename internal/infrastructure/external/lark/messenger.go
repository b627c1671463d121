package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/application/port"
)

const (
	msgTypeText        = "text"
	msgTypeInteractive = "interactive"
)

type createMessageFunc func(ctx context.Context, req *larkim.CreateMessageReq) (*larkim.CreateMessageResp, error)

// Messenger implements port.MessageSender with the IM message API
type Messenger struct {
	create createMessageFunc
	logger *zap.Logger
}

// NewMessenger creates a new Lark message sender adapter
func NewMessenger(client *SDKClient, logger *zap.Logger) *Messenger {
	return &Messenger{
		create: func(ctx context.Context, req *larkim.CreateMessageReq) (*larkim.CreateMessageResp, error) {
			return client.GetClient().Im.Message.Create(ctx, req)
		},
		logger: logger,
	}
}

// SendText sends a text message and returns the message ID.
// receiveIDType is one of open_id, user_id, union_id, email or chat_id.
func (m *Messenger) SendText(ctx context.Context, receiveIDType, receiveID, content string) (string, error) {
	if receiveID == "" {
		return "", fmt.Errorf("receiveID cannot be empty")
	}
	if content == "" {
		return "", fmt.Errorf("content cannot be empty")
	}

	textContent, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	return m.send(ctx, receiveIDType, receiveID, msgTypeText, string(textContent))
}

// SendCard sends an interactive card message
func (m *Messenger) SendCard(ctx context.Context, receiveIDType, receiveID string, card interface{}) (string, error) {
	if card == nil {
		return "", fmt.Errorf("card cannot be nil")
	}
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("failed to marshal card content: %w", err)
	}
	return m.send(ctx, receiveIDType, receiveID, msgTypeInteractive, string(cardJSON))
}

func (m *Messenger) send(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := m.create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", receiveID))
	return messageID, nil
}

var _ port.MessageSender = (*Messenger)(nil)
