package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMessenger(create createMessageFunc) *Messenger {
	return &Messenger{create: create, logger: zap.NewNop()}
}

func TestMessenger_SendText(t *testing.T) {
	var got *larkim.CreateMessageReq
	m := newTestMessenger(func(ctx context.Context, req *larkim.CreateMessageReq) (*larkim.CreateMessageResp, error) {
		got = req
		return &larkim.CreateMessageResp{
			Data: &larkim.CreateMessageRespData{MessageId: larkcore.StringPtr("om_123")},
		}, nil
	})

	id, err := m.SendText(context.Background(), "chat_id", "oc_1", "Approve \"outreach\"?\nReply in the app")
	require.NoError(t, err)
	assert.Equal(t, "om_123", id)

	require.NotNil(t, got)
	assert.Equal(t, "oc_1", *got.Body.ReceiveId)
	assert.Equal(t, msgTypeText, *got.Body.MsgType)

	var content map[string]string
	require.NoError(t, json.Unmarshal([]byte(*got.Body.Content), &content))
	assert.Equal(t, "Approve \"outreach\"?\nReply in the app", content["text"])
}

func TestMessenger_SendTextErrors(t *testing.T) {
	calls := 0
	m := newTestMessenger(func(ctx context.Context, req *larkim.CreateMessageReq) (*larkim.CreateMessageResp, error) {
		calls++
		return nil, errors.New("dial tcp: timeout")
	})

	_, err := m.SendText(context.Background(), "open_id", "", "hi")
	assert.Error(t, err)
	_, err = m.SendText(context.Background(), "open_id", "ou_1", "")
	assert.Error(t, err)
	assert.Equal(t, 0, calls)

	_, err = m.SendText(context.Background(), "open_id", "ou_1", "hi")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMessenger_APIFailure(t *testing.T) {
	m := newTestMessenger(func(ctx context.Context, req *larkim.CreateMessageReq) (*larkim.CreateMessageResp, error) {
		return &larkim.CreateMessageResp{CodeError: larkcore.CodeError{Code: 230002, Msg: "bot not in chat"}}, nil
	})

	_, err := m.SendText(context.Background(), "chat_id", "oc_1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "230002")
}

func TestMessenger_SendCard(t *testing.T) {
	var msgType string
	m := newTestMessenger(func(ctx context.Context, req *larkim.CreateMessageReq) (*larkim.CreateMessageResp, error) {
		msgType = *req.Body.MsgType
		return &larkim.CreateMessageResp{}, nil
	})

	_, err := m.SendCard(context.Background(), "chat_id", "oc_1", nil)
	assert.Error(t, err)

	id, err := m.SendCard(context.Background(), "chat_id", "oc_1", map[string]interface{}{"elements": []string{}})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, msgTypeInteractive, msgType)
}

func TestConfig_Configured(t *testing.T) {
	assert.False(t, Config{AppID: "cli_1"}.Configured())
	assert.True(t, Config{AppID: "cli_1", AppSecret: "s"}.Configured())
	assert.NotNil(t, NewSDKClient(Config{AppID: "cli_1", AppSecret: "s"}, zap.NewNop()).GetClient())
}
