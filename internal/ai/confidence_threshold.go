package ai

import (
	"fmt"
	"math"
)

// RefineCutoffRatio is the share of the acceptance threshold a candidate must
// reach in the pre-filter before it is worth a refinement call
const RefineCutoffRatio = 0.5

// DefaultRefineConcurrency bounds in-flight refinement calls per batch
const DefaultRefineConcurrency = 5

// ConfidenceThreshold defines the decision boundaries for a batch of candidates.
// Scores are on a 0-100 scale.
type ConfidenceThreshold struct {
	// Threshold is the absolute minimum a final score must reach
	Threshold float64

	// CutoffRatio scales Threshold into the pre-filter cutoff. Zero means RefineCutoffRatio.
	CutoffRatio float64
}

// NewConfidenceThreshold creates a threshold with the default cutoff ratio
func NewConfidenceThreshold(threshold float64) ConfidenceThreshold {
	return ConfidenceThreshold{
		Threshold:   threshold,
		CutoffRatio: RefineCutoffRatio,
	}
}

// Validate ensures the threshold is on the 0-100 scale and the ratio is sane
func (ct ConfidenceThreshold) Validate() error {
	if math.IsNaN(ct.Threshold) || ct.Threshold < 0 || ct.Threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got %.2f", ct.Threshold)
	}
	if ct.CutoffRatio < 0 || ct.CutoffRatio > 1 {
		return fmt.Errorf("cutoff ratio must be between 0 and 1, got %.2f", ct.CutoffRatio)
	}
	return nil
}

// PrefilterCutoff is the pre-filter score a candidate needs to be refined
func (ct ConfidenceThreshold) PrefilterCutoff() float64 {
	ratio := ct.CutoffRatio
	if ratio == 0 {
		ratio = RefineCutoffRatio
	}
	return ct.Threshold * ratio
}

// ShouldRefine reports whether a pre-filter score clears the refinement cutoff
func (ct ConfidenceThreshold) ShouldRefine(preScore float64) bool {
	return preScore >= ct.PrefilterCutoff()
}

// Accepts reports whether a final score clears the absolute threshold
func (ct ConfidenceThreshold) Accepts(score float64) bool {
	return score >= ct.Threshold
}

// Dimension is one independently scored aspect of a candidate.
// Score returns a value in [0, 1]; out-of-range values are clamped.
type Dimension struct {
	Name   string
	Weight float64
	Score  func(c Candidate) float64
}

// WeightedScorer is a deterministic pre-filter: a weighted sum of dimension
// scores normalized to 0-100
type WeightedScorer struct {
	dimensions  []Dimension
	totalWeight float64
}

// NewWeightedScorer creates a scorer. Dimensions with non-positive weight are rejected.
func NewWeightedScorer(dimensions ...Dimension) (*WeightedScorer, error) {
	if len(dimensions) == 0 {
		return nil, fmt.Errorf("at least one dimension is required")
	}

	var total float64
	for _, d := range dimensions {
		if d.Weight <= 0 {
			return nil, fmt.Errorf("dimension %q must have a positive weight", d.Name)
		}
		if d.Score == nil {
			return nil, fmt.Errorf("dimension %q has no score function", d.Name)
		}
		total += d.Weight
	}

	return &WeightedScorer{
		dimensions:  dimensions,
		totalWeight: total,
	}, nil
}

// Score implements PreFilter
func (s *WeightedScorer) Score(c Candidate) float64 {
	var sum float64
	for _, d := range s.dimensions {
		sum += d.Weight * clampUnit(d.Score(c))
	}
	return math.Round(sum/s.totalWeight*100*100) / 100
}

// Breakdown returns the per-dimension unit scores, for rationales
func (s *WeightedScorer) Breakdown(c Candidate) map[string]float64 {
	out := make(map[string]float64, len(s.dimensions))
	for _, d := range s.dimensions {
		out[d.Name] = clampUnit(d.Score(c))
	}
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
