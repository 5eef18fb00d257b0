// Package decision combines the rule outcome and anomaly score into a final decision.
package decision

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// Processor holds the combiner thresholds. It has no mutable state and may be
// shared across goroutines.
type Processor struct {
	// Amounts strictly below SmallAmount are always accepted.
	SmallAmount decimal.Decimal

	// Combined score thresholds, inclusive.
	RejectThreshold float64
	ReviewThreshold float64

	// Combined score at or above which a non-overridden transaction alerts.
	AlertThreshold float64
}

// NewProcessor creates a processor with the production thresholds.
func NewProcessor() *Processor {
	return &Processor{
		SmallAmount:     decimal.NewFromInt(1000),
		RejectThreshold: 90,
		ReviewThreshold: 60,
		AlertThreshold:  80,
	}
}

// Verdict is the combiner output before explanation.
type Verdict struct {
	Decision domain.Decision
	Combined float64

	// SmallAmount is set when the amount override decided the outcome.
	SmallAmount bool
}

// Combine applies the decision ladder: small-amount override, then the
// reject and review thresholds, then the rule engine's own decision.
func (p *Processor) Combine(outcome domain.RuleOutcome, anomaly float64, amount decimal.Decimal) Verdict {
	combined := float64(outcome.Risk) + anomaly

	v := Verdict{Combined: combined}
	switch {
	case amount.LessThan(p.SmallAmount):
		v.Decision = domain.DecisionAccepted
		v.SmallAmount = true
	case combined >= p.RejectThreshold:
		v.Decision = domain.DecisionRejected
	case combined >= p.ReviewThreshold:
		v.Decision = domain.DecisionReview
	default:
		v.Decision = outcome.Decision
	}
	return v
}

// ShouldAlert reports whether a verdict warrants an alert. Transactions
// accepted by the small-amount override never alert.
func (p *Processor) ShouldAlert(v Verdict) bool {
	if v.SmallAmount {
		return false
	}
	return v.Decision == domain.DecisionRejected || v.Combined >= p.AlertThreshold
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TxID         string
	Amount       decimal.Decimal
	Outcome      domain.RuleOutcome
	AnomalyScore float64
	ModelVersion string
	StartTime    time.Time
}

// Process combines, explains and stamps a final decision.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.FinalDecision {
	v := p.Combine(input.Outcome, input.AnomalyScore, input.Amount)

	start := input.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	return &domain.FinalDecision{
		TxID:         input.TxID,
		Decision:     v.Decision,
		Score:        v.Combined,
		Reasons:      Explain(input.Amount, input.Outcome.Rule, v.Combined),
		Rule:         input.Outcome.Rule,
		RuleRisk:     input.Outcome.Risk,
		AnomalyScore: input.AnomalyScore,
		ModelVersion: input.ModelVersion,
		Alerted:      p.ShouldAlert(v),
		EvaluatedAt:  time.Now().UTC(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}
