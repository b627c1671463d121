package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceThreshold_Validate(t *testing.T) {
	tests := []struct {
		name          string
		threshold     ConfidenceThreshold
		expectError   bool
		errorContains string
	}{
		{
			name:      "valid threshold",
			threshold: NewConfidenceThreshold(40),
		},
		{
			name:      "zero ratio uses default",
			threshold: ConfidenceThreshold{Threshold: 70},
		},
		{
			name:          "threshold too high",
			threshold:     NewConfidenceThreshold(150),
			expectError:   true,
			errorContains: "threshold must be between 0 and 100",
		},
		{
			name:          "threshold negative",
			threshold:     NewConfidenceThreshold(-1),
			expectError:   true,
			errorContains: "threshold must be between 0 and 100",
		},
		{
			name:          "ratio above one",
			threshold:     ConfidenceThreshold{Threshold: 40, CutoffRatio: 1.5},
			expectError:   true,
			errorContains: "cutoff ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.threshold.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfidenceThreshold_Cutoffs(t *testing.T) {
	ct := NewConfidenceThreshold(40)

	assert.Equal(t, 20.0, ct.PrefilterCutoff())
	assert.False(t, ct.ShouldRefine(15))
	assert.True(t, ct.ShouldRefine(20))
	assert.True(t, ct.ShouldRefine(25))

	assert.False(t, ct.Accepts(39.99))
	assert.True(t, ct.Accepts(40))

	assert.Equal(t, 35.0, ConfidenceThreshold{Threshold: 70}.PrefilterCutoff())
}

func TestWeightedScorer(t *testing.T) {
	scorer, err := NewWeightedScorer(
		Dimension{Name: "title", Weight: 3, Score: func(c Candidate) float64 { return c.Float("title") }},
		Dimension{Name: "location", Weight: 1, Score: func(c Candidate) float64 { return c.Float("location") }},
	)
	require.NoError(t, err)

	tests := []struct {
		name string
		data map[string]interface{}
		want float64
	}{
		{"all match", map[string]interface{}{"title": 1.0, "location": 1.0}, 100},
		{"nothing", map[string]interface{}{}, 0},
		{"weighted", map[string]interface{}{"title": 1.0, "location": 0.0}, 75},
		{"clamped", map[string]interface{}{"title": 4.0, "location": -2.0}, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Candidate{ID: tt.name, Data: tt.data}
			assert.InDelta(t, tt.want, scorer.Score(c), 0.001)
		})
	}

	breakdown := scorer.Breakdown(Candidate{Data: map[string]interface{}{"title": 0.5}})
	assert.Equal(t, 0.5, breakdown["title"])
	assert.Equal(t, 0.0, breakdown["location"])
}

func TestNewWeightedScorer_Errors(t *testing.T) {
	_, err := NewWeightedScorer()
	assert.Error(t, err)

	_, err = NewWeightedScorer(Dimension{Name: "x", Weight: 0, Score: func(Candidate) float64 { return 1 }})
	assert.Error(t, err)

	_, err = NewWeightedScorer(Dimension{Name: "x", Weight: 1})
	assert.Error(t, err)
}
