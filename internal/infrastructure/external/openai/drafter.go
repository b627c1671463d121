package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OutreachRequest describes who a message is for
type OutreachRequest struct {
	Name    string
	Company string
	Note    string
}

// Drafter writes outreach message drafts
type Drafter struct {
	client ChatClient
	prompt Prompt
	model  string
	logger *zap.Logger
}

// NewDrafter creates a Drafter
func NewDrafter(client ChatClient, prompts *PromptConfig, cfg Config, logger *zap.Logger) (*Drafter, error) {
	if prompts == nil || prompts.Outreach.UserTemplate == "" {
		return nil, fmt.Errorf("outreach prompt is incomplete")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Drafter{client: client, prompt: prompts.Outreach, model: model, logger: logger}, nil
}

// DraftOutreach returns the message text
func (d *Drafter) DraftOutreach(ctx context.Context, req OutreachRequest) (string, error) {
	userPrompt, err := renderTemplate(d.prompt.UserTemplate, req)
	if err != nil {
		return "", err
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		Temperature: d.prompt.Temperature,
		MaxTokens:   d.prompt.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: d.prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty draft from OpenAI")
	}
	d.logger.Debug("Outreach drafted", zap.String("recipient", req.Name), zap.Int("length", len(text)))
	return text, nil
}
