// Package jobsearch ranks job postings against a seeker's profile and
// proposes a digest of the best matches
package jobsearch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/garyjia/agent-runtime/internal/ai"
	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// Action names
const (
	ActionJobMatches    = "job_matches"
	ActionNotifyMatches = "notify_matches"
)

// DefaultThreshold is the 0-100 score a job must reach to be a match
const DefaultThreshold = 60

// MaxDigestSize caps the matches listed in one digest
const MaxDigestSize = 10

// DefaultSentCacheSize bounds the remembered digest idempotency keys
const DefaultSentCacheSize = 1024

// Digest payload keys
const (
	KeyIdempotency = "idempotency_key"
	KeyText        = "text"
)

// Config for the strategy
type Config struct {
	Threshold   float64
	Concurrency int
	// ReceiveIDType and ReceiveID are the only digest destination. Task
	// payloads cannot redirect it.
	ReceiveIDType string
	ReceiveID     string
	SentCacheSize int
}

// Strategy implements port.Strategy and port.Validator
type Strategy struct {
	refiner ai.Refiner
	sender  port.MessageSender
	config  Config
	logger  port.Logger

	mu   sync.Mutex
	sent *lru.Cache[string, string]
}

// New creates the strategy. refiner may be nil, in which case the weighted
// pre-filter score is final.
func New(refiner ai.Refiner, sender port.MessageSender, config Config, logger port.Logger) (*Strategy, error) {
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Concurrency <= 0 {
		config.Concurrency = ai.DefaultRefineConcurrency
	}
	if config.ReceiveIDType == "" {
		config.ReceiveIDType = "open_id"
	}
	if config.SentCacheSize <= 0 {
		config.SentCacheSize = DefaultSentCacheSize
	}
	sent, err := lru.New[string, string](config.SentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create sent cache: %w", err)
	}
	return &Strategy{refiner: refiner, sender: sender, config: config, logger: logger, sent: sent}, nil
}

// Validate checks the payload has at least one job with an id
func (s *Strategy) Validate(payload map[string]interface{}) error {
	jobs, err := parseJobs(payload)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return entity.NewValidationError("jobs", "at least one job is required")
	}
	return nil
}

// Execute scores the jobs and proposes a digest draft when any match
func (s *Strategy) Execute(ctx context.Context, inv port.Invocation) (*entity.AgentOutput, error) {
	jobs, err := parseJobs(inv.Payload)
	if err != nil {
		return nil, err
	}
	prof := parseProfile(inv.Payload)

	scorer, err := ai.NewWeightedScorer(prof.dimensions()...)
	if err != nil {
		return nil, err
	}
	pipeline, err := ai.NewPipeline(scorer, s.refiner, ai.PipelineConfig{
		Threshold:   ai.NewConfidenceThreshold(s.config.Threshold),
		Concurrency: s.config.Concurrency,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	result := pipeline.Evaluate(ctx, jobs)
	s.logger.Info("Jobs evaluated",
		"task_id", inv.TaskID,
		"jobs", len(jobs),
		"accepted", len(result.Accepted),
		"refine_calls", result.RefineCalls,
		"fallbacks", result.Fallbacks)

	matches := make([]map[string]interface{}, 0, len(result.Accepted))
	for _, m := range result.Accepted {
		matches = append(matches, map[string]interface{}{
			"id":        m.Candidate.ID,
			"title":     m.Candidate.Text("title"),
			"company":   m.Candidate.Text("company"),
			"score":     m.Score,
			"refined":   m.Refined,
			"rationale": m.Rationale,
		})
	}

	output := &entity.AgentOutput{
		Action: ActionJobMatches,
		Data: map[string]interface{}{
			"matches":      matches,
			"evaluated":    len(jobs),
			"refine_calls": result.RefineCalls,
			"fallbacks":    result.Fallbacks,
		},
	}
	if len(result.Accepted) == 0 {
		output.Rationale = fmt.Sprintf("none of %d jobs reached %.0f", len(jobs), s.config.Threshold)
		return output, nil
	}

	top := result.Accepted[0]
	output.Confidence = top.Score / 100
	output.Rationale = fmt.Sprintf("%d of %d jobs matched; best %q at %.0f", len(result.Accepted), len(jobs), top.Candidate.Text("title"), top.Score)

	output.Proposed = &entity.ProposedAction{
		Kind: entity.ActionKindDraft,
		Name: ActionNotifyMatches,
		Payload: map[string]interface{}{
			KeyIdempotency: inv.TaskID,
			KeyText:        digest(result.Accepted),
		},
		Context: map[string]interface{}{
			"match_count": len(result.Accepted),
			"top_match":   top.Candidate.Text("title"),
			"top_score":   top.Score,
			"destination": s.config.ReceiveID,
		},
	}
	return output, nil
}

// Perform sends the digest to the configured destination, once per
// idempotency key
func (s *Strategy) Perform(ctx context.Context, userID string, action entity.ProposedAction) error {
	if action.Name != ActionNotifyMatches {
		return fmt.Errorf("unsupported action %q", action.Name)
	}
	if s.sender == nil {
		return fmt.Errorf("no message sender configured")
	}
	if s.config.ReceiveID == "" {
		return fmt.Errorf("no digest destination configured")
	}

	key, _ := action.Payload[KeyIdempotency].(string)
	text, _ := action.Payload[KeyText].(string)
	if text == "" {
		return fmt.Errorf("digest for user %s is empty", userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		if messageID, ok := s.sent.Get(key); ok {
			s.logger.Info("Match digest already sent, skipping", "idempotency_key", key, "message_id", messageID)
			return nil
		}
	}

	messageID, err := s.sender.SendText(ctx, s.config.ReceiveIDType, s.config.ReceiveID, text)
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	if key != "" {
		s.sent.Add(key, messageID)
	}
	s.logger.Info("Match digest sent", "user_id", userID, "message_id", messageID)
	return nil
}

func digest(accepted []ai.Scored) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching jobs:", len(accepted))
	for i, m := range accepted {
		if i == MaxDigestSize {
			fmt.Fprintf(&b, "\n...and %d more", len(accepted)-MaxDigestSize)
			break
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, m.Candidate.Text("title"))
		if company := m.Candidate.Text("company"); company != "" {
			fmt.Fprintf(&b, " at %s", company)
		}
		fmt.Fprintf(&b, " (%.0f)", m.Score)
	}
	return b.String()
}

var (
	_ port.Strategy  = (*Strategy)(nil)
	_ port.Validator = (*Strategy)(nil)
)
