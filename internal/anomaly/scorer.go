// Package anomaly turns an unsupervised model's output into a bounded risk score.
package anomaly

import (
	"fmt"
	"math"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// Model is a trained anomaly model following the decision-function
// convention: lower values are more anomalous.
type Model interface {
	DecisionFunction(x float64) float64
	Version() string
}

// Scorer converts model output into a risk score in [0, 100].
type Scorer struct {
	model Model
}

// NewScorer wraps a loaded model. A nil model yields a scorer that reports
// ErrScorerUnavailable on every call.
func NewScorer(model Model) *Scorer {
	return &Scorer{model: model}
}

// Ready reports whether a model is loaded.
func (s *Scorer) Ready() bool {
	return s != nil && s.model != nil
}

// ModelVersion returns the loaded model version, or "" when unloaded.
func (s *Scorer) ModelVersion() string {
	if !s.Ready() {
		return ""
	}
	return s.model.Version()
}

// Score returns (1 - decision) * 100 clamped to [0, 100] and rounded to two decimals.
func (s *Scorer) Score(amount float64) (float64, error) {
	if !s.Ready() {
		return 0, domain.ErrScorerUnavailable
	}

	raw := s.model.DecisionFunction(amount)
	if math.IsNaN(raw) {
		return 0, fmt.Errorf("%w: model returned NaN for amount %v", domain.ErrScorerUnavailable, amount)
	}

	return Risk(raw), nil
}

// Risk maps a raw decision value to the clamped, rounded risk score.
func Risk(raw float64) float64 {
	risk := (1 - raw) * 100
	risk = math.Max(0, math.Min(100, risk))
	return math.Round(risk*100) / 100
}
