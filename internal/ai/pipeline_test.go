package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedPrefilter returns the "pre" field of each candidate
var fixedPrefilter = PreFilterFunc(func(c Candidate) float64 { return c.Float("pre") })

type mockRefiner struct {
	mu       sync.Mutex
	calls    []string
	refineFn func(ctx context.Context, c Candidate, pre float64) (*Refinement, error)
}

func (m *mockRefiner) Refine(ctx context.Context, c Candidate, pre float64) (*Refinement, error) {
	m.mu.Lock()
	m.calls = append(m.calls, c.ID)
	m.mu.Unlock()
	return m.refineFn(ctx, c, pre)
}

func (m *mockRefiner) called(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == id {
			return true
		}
	}
	return false
}

type recordingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *recordingLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func candidate(id string, pre float64) Candidate {
	return Candidate{ID: id, Data: map[string]interface{}{"pre": pre}}
}

func findScored(list []Scored, id string) (Scored, bool) {
	for _, s := range list {
		if s.Candidate.ID == id {
			return s, true
		}
	}
	return Scored{}, false
}

func TestPipeline_ThresholdScenario(t *testing.T) {
	refiner := &mockRefiner{
		refineFn: func(ctx context.Context, c Candidate, pre float64) (*Refinement, error) {
			switch c.ID {
			case "B":
				return &Refinement{Score: 55, Rationale: "strong fit"}, nil
			case "C":
				return nil, errors.New("llm timeout")
			}
			return nil, fmt.Errorf("unexpected candidate %s", c.ID)
		},
	}
	logger := &recordingLogger{}

	p, err := NewPipeline(fixedPrefilter, refiner, PipelineConfig{Threshold: NewConfidenceThreshold(40)}, logger)
	require.NoError(t, err)

	result := p.Evaluate(context.Background(), []Candidate{
		candidate("A", 15),
		candidate("B", 25),
		candidate("C", 60),
	})

	assert.False(t, refiner.called("A"), "A is below the pre-filter cutoff")
	assert.Equal(t, 2, result.RefineCalls)
	assert.Equal(t, 1, result.Fallbacks)
	assert.Equal(t, 1, logger.warns)

	a, ok := findScored(result.Rejected, "A")
	require.True(t, ok)
	assert.Equal(t, 15.0, a.Score)
	assert.False(t, a.Refined)

	b, ok := findScored(result.Accepted, "B")
	require.True(t, ok)
	assert.Equal(t, 55.0, b.Score)
	assert.Equal(t, 25.0, b.PreScore)
	assert.True(t, b.Refined)
	assert.Equal(t, "strong fit", b.Rationale)

	c, ok := findScored(result.Accepted, "C")
	require.True(t, ok)
	assert.Equal(t, 60.0, c.Score)
	assert.False(t, c.Refined)
	assert.Contains(t, c.FallbackReason, "llm timeout")

	require.Len(t, result.Accepted, 2)
	assert.Equal(t, "C", result.Accepted[0].Candidate.ID)
	assert.Equal(t, "B", result.Accepted[1].Candidate.ID)
}

func TestPipeline_RefinementCanLowerScore(t *testing.T) {
	refiner := &mockRefiner{
		refineFn: func(ctx context.Context, c Candidate, pre float64) (*Refinement, error) {
			return &Refinement{Score: 10}, nil
		},
	}
	p, err := NewPipeline(fixedPrefilter, refiner, PipelineConfig{Threshold: NewConfidenceThreshold(40)}, nil)
	require.NoError(t, err)

	result := p.Evaluate(context.Background(), []Candidate{candidate("X", 90)})

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 10.0, result.Rejected[0].Score)
}

func TestPipeline_MalformedRefinementFallsBack(t *testing.T) {
	tests := []struct {
		name string
		ref  *Refinement
	}{
		{"nil", nil},
		{"above range", &Refinement{Score: 250}},
		{"negative", &Refinement{Score: -3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refiner := &mockRefiner{
				refineFn: func(ctx context.Context, c Candidate, pre float64) (*Refinement, error) {
					return tt.ref, nil
				},
			}
			p, err := NewPipeline(fixedPrefilter, refiner, PipelineConfig{Threshold: NewConfidenceThreshold(40)}, nil)
			require.NoError(t, err)

			result := p.Evaluate(context.Background(), []Candidate{candidate("X", 45)})

			require.Len(t, result.Accepted, 1)
			assert.Equal(t, 45.0, result.Accepted[0].Score)
			assert.Contains(t, result.Accepted[0].FallbackReason, "malformed refinement")
			assert.Equal(t, 1, result.Fallbacks)
		})
	}
}

func TestPipeline_PanicIsolatedToCandidate(t *testing.T) {
	refiner := &mockRefiner{
		refineFn: func(ctx context.Context, c Candidate, pre float64) (*Refinement, error) {
			if c.ID == "bad" {
				panic("nil pointer")
			}
			return &Refinement{Score: 80}, nil
		},
	}
	p, err := NewPipeline(fixedPrefilter, refiner, PipelineConfig{Threshold: NewConfidenceThreshold(40)}, nil)
	require.NoError(t, err)

	result := p.Evaluate(context.Background(), []Candidate{candidate("bad", 30), candidate("good", 30)})

	good, ok := findScored(result.Accepted, "good")
	require.True(t, ok)
	assert.Equal(t, 80.0, good.Score)

	bad, ok := findScored(result.Rejected, "bad")
	require.True(t, ok)
	assert.Equal(t, 30.0, bad.Score)
}

func TestPipeline_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	refiner := &mockRefiner{
		refineFn: func(ctx context.Context, c Candidate, pre float64) (*Refinement, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return &Refinement{Score: pre}, nil
		},
	}
	p, err := NewPipeline(fixedPrefilter, refiner, PipelineConfig{Threshold: NewConfidenceThreshold(40)}, nil)
	require.NoError(t, err)

	var candidates []Candidate
	for i := 0; i < 20; i++ {
		candidates = append(candidates, candidate(fmt.Sprintf("c%d", i), 50))
	}

	result := p.Evaluate(context.Background(), candidates)

	assert.Equal(t, 20, result.RefineCalls)
	assert.Len(t, result.Accepted, 20)
	assert.LessOrEqual(t, peak.Load(), int32(DefaultRefineConcurrency))
	assert.Greater(t, peak.Load(), int32(1), "refinement should not run sequentially")
}

func TestPipeline_NoRefiner(t *testing.T) {
	p, err := NewPipeline(fixedPrefilter, nil, PipelineConfig{Threshold: NewConfidenceThreshold(40)}, nil)
	require.NoError(t, err)

	result := p.Evaluate(context.Background(), []Candidate{candidate("A", 41), candidate("B", 39)})

	assert.Equal(t, 0, result.RefineCalls)
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "A", result.Accepted[0].Candidate.ID)
}

func TestNewPipeline_Errors(t *testing.T) {
	_, err := NewPipeline(nil, nil, PipelineConfig{Threshold: NewConfidenceThreshold(40)}, nil)
	assert.Error(t, err)

	_, err = NewPipeline(fixedPrefilter, nil, PipelineConfig{Threshold: NewConfidenceThreshold(400)}, nil)
	assert.Error(t, err)
}
