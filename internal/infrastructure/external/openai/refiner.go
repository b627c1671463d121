// Package openai implements the LLM steps of the agents on go-openai
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/ai"
)

// Config for the OpenAI client
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// ChatClient is the subset of the OpenAI client the refiner uses
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient builds an OpenAI client from config
func NewClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(clientCfg)
}

type field struct {
	Key   string
	Value interface{}
}

type refineData struct {
	ID       string
	PreScore float64
	Fields   []field
}

type refineResponse struct {
	Score     *float64 `json:"score"`
	Rationale string   `json:"rationale"`
}

// Refiner implements ai.Refiner by asking the model to re-score a candidate
type Refiner struct {
	client ChatClient
	prompt Prompt
	model  string
	logger *zap.Logger
}

// NewRefiner creates a Refiner. A zero temperature in cfg keeps the prompt's own.
func NewRefiner(client ChatClient, prompts *PromptConfig, cfg Config, logger *zap.Logger) (*Refiner, error) {
	if prompts == nil {
		return nil, fmt.Errorf("prompts are required")
	}
	if prompts.Refine.System == "" || prompts.Refine.UserTemplate == "" {
		return nil, fmt.Errorf("refine prompt is incomplete")
	}
	prompt := prompts.Refine
	if cfg.Temperature > 0 {
		prompt.Temperature = cfg.Temperature
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Refiner{client: client, prompt: prompt, model: model, logger: logger}, nil
}

// Refine returns the model's 0-100 score for the candidate
func (r *Refiner) Refine(ctx context.Context, c ai.Candidate, preScore float64) (*ai.Refinement, error) {
	userPrompt, err := renderTemplate(r.prompt.UserTemplate, candidateData(c, preScore))
	if err != nil {
		return nil, err
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: r.prompt.Temperature,
		MaxTokens:   r.prompt.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	parsed, err := parseRefinement(content)
	if err != nil {
		r.logger.Warn("Failed to parse refinement",
			zap.String("candidate_id", c.ID),
			zap.String("content", content),
			zap.Error(err))
		return nil, err
	}

	r.logger.Debug("Candidate refined",
		zap.String("candidate_id", c.ID),
		zap.Float64("pre_score", preScore),
		zap.Float64("score", parsed.Score))
	return parsed, nil
}

func parseRefinement(content string) (*ai.Refinement, error) {
	var out refineResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		// Fallback: the model wrapped the object in prose or a code fence
		jsonStr := extractJSON(content)
		if jsonStr == "" {
			return nil, fmt.Errorf("%w: no JSON object in response", ai.ErrMalformedRefinement)
		}
		if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ai.ErrMalformedRefinement, err)
		}
	}
	if out.Score == nil {
		return nil, fmt.Errorf("%w: missing score", ai.ErrMalformedRefinement)
	}
	return &ai.Refinement{Score: *out.Score, Rationale: strings.TrimSpace(out.Rationale)}, nil
}

func candidateData(c ai.Candidate, preScore float64) refineData {
	keys := make([]string, 0, len(c.Data))
	for k := range c.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, field{Key: k, Value: c.Data[k]})
	}
	return refineData{ID: c.ID, PreScore: preScore, Fields: fields}
}

// extractJSON returns the first balanced JSON object in content
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd finds the end of JSON content starting at a given position
func findJSONEnd(content string, start int) int {
	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}
	return -1
}

var _ ai.Refiner = (*Refiner)(nil)
