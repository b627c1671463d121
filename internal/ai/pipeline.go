// Package ai holds the confidence-gated decision pipeline: a cheap
// deterministic pre-filter followed by an expensive refinement step that is
// only spent on promising candidates. It knows nothing about brakes,
// approvals or persistence and is composed inside agent strategies.
package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Candidate is one item under evaluation
type Candidate struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// Text returns a string field or ""
func (c Candidate) Text(key string) string {
	if v, ok := c.Data[key].(string); ok {
		return v
	}
	return ""
}

// Float returns a numeric field or 0
func (c Candidate) Float(key string) float64 {
	switch v := c.Data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// PreFilter scores a candidate instantly on a 0-100 scale
type PreFilter interface {
	Score(c Candidate) float64
}

// PreFilterFunc adapts a function to PreFilter
type PreFilterFunc func(c Candidate) float64

// Score implements PreFilter
func (f PreFilterFunc) Score(c Candidate) float64 { return f(c) }

// Refinement is the result of one expensive evaluation
type Refinement struct {
	Score     float64
	Rationale string
}

// Refiner re-scores a candidate with an expensive call such as an LLM request
type Refiner interface {
	Refine(ctx context.Context, c Candidate, preScore float64) (*Refinement, error)
}

// ErrMalformedRefinement marks a refinement that returned an unusable score
var ErrMalformedRefinement = errors.New("malformed refinement")

// Logger interface for minimal logging dependency
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
}

// Scored is a candidate with its pre-filter and final score
type Scored struct {
	Candidate Candidate `json:"candidate"`
	PreScore  float64   `json:"pre_score"`
	Score     float64   `json:"score"`
	Refined   bool      `json:"refined"`
	Rationale string    `json:"rationale,omitempty"`

	// FallbackReason is set when refinement was attempted and the
	// pre-filter score was kept instead
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Result is the outcome of one batch. Accepted is sorted by score, highest first.
type Result struct {
	Accepted    []Scored `json:"accepted"`
	Rejected    []Scored `json:"rejected"`
	RefineCalls int      `json:"refine_calls"`
	Fallbacks   int      `json:"fallbacks"`
}

// PipelineConfig configures a Pipeline
type PipelineConfig struct {
	Threshold   ConfidenceThreshold
	Concurrency int
}

// Pipeline evaluates candidates in two stages
type Pipeline struct {
	prefilter PreFilter
	refiner   Refiner
	config    PipelineConfig
	logger    Logger
}

// NewPipeline creates a pipeline. A nil refiner keeps every pre-filter score.
func NewPipeline(prefilter PreFilter, refiner Refiner, config PipelineConfig, logger Logger) (*Pipeline, error) {
	if prefilter == nil {
		return nil, fmt.Errorf("prefilter is required")
	}
	if err := config.Threshold.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold: %w", err)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultRefineConcurrency
	}

	return &Pipeline{
		prefilter: prefilter,
		refiner:   refiner,
		config:    config,
		logger:    logger,
	}, nil
}

// Evaluate scores every candidate and returns those reaching the threshold.
// Candidates below the pre-filter cutoff are dropped without a refinement
// call. A failed refinement falls back to the pre-filter score for that
// candidate only; Evaluate itself never fails because of one.
func (p *Pipeline) Evaluate(ctx context.Context, candidates []Candidate) *Result {
	scored := make([]Scored, len(candidates))
	var toRefine []int

	for i, c := range candidates {
		pre := p.prefilter.Score(c)
		scored[i] = Scored{Candidate: c, PreScore: pre, Score: pre}
		if p.refiner != nil && p.config.Threshold.ShouldRefine(pre) {
			toRefine = append(toRefine, i)
		}
	}

	var (
		mu        sync.Mutex
		fallbacks int
	)

	g := new(errgroup.Group)
	g.SetLimit(p.config.Concurrency)

	for _, idx := range toRefine {
		idx := idx
		g.Go(func() error {
			s := scored[idx]
			ref, err := p.refineOne(ctx, s.Candidate, s.PreScore)
			if err != nil {
				p.warn("Refinement failed, keeping pre-filter score",
					"candidate_id", s.Candidate.ID,
					"pre_score", s.PreScore,
					"error", err)
				mu.Lock()
				scored[idx].FallbackReason = err.Error()
				fallbacks++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			scored[idx].Score = ref.Score
			scored[idx].Refined = true
			scored[idx].Rationale = ref.Rationale
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{
		RefineCalls: len(toRefine),
		Fallbacks:   fallbacks,
	}
	for _, s := range scored {
		if p.config.Threshold.Accepts(s.Score) {
			result.Accepted = append(result.Accepted, s)
		} else {
			result.Rejected = append(result.Rejected, s)
		}
	}

	sort.SliceStable(result.Accepted, func(i, j int) bool {
		return result.Accepted[i].Score > result.Accepted[j].Score
	})

	return result
}

// refineOne calls the refiner, converting panics and bad scores into errors
func (p *Pipeline) refineOne(ctx context.Context, c Candidate, pre float64) (ref *Refinement, err error) {
	defer func() {
		if r := recover(); r != nil {
			ref, err = nil, fmt.Errorf("refiner panic: %v", r)
		}
	}()

	ref, err = p.refiner.Refine(ctx, c, pre)
	if err != nil {
		return nil, err
	}
	if ref == nil || math.IsNaN(ref.Score) || ref.Score < 0 || ref.Score > 100 {
		return nil, fmt.Errorf("%w: score out of range", ErrMalformedRefinement)
	}
	return ref, nil
}

func (p *Pipeline) warn(msg string, keysAndValues ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, keysAndValues...)
	}
}
