// Package engine orchestrates one transaction evaluation: rules and anomaly
// scoring run in parallel, the processor combines them, and alert-worthy
// decisions are handed to the dispatcher.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/sentinelstream/internal/anomaly"
	"github.com/opensource-finance/sentinelstream/internal/decision"
	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
	"github.com/opensource-finance/sentinelstream/internal/rules"
)

var tracer = otel.Tracer("sentinelstream-engine")

// Engine is safe for concurrent use.
type Engine struct {
	rules      *rules.Engine
	scorer     *anomaly.Scorer
	processor  *decision.Processor
	dispatcher domain.AlertDispatcher
}

// New creates an engine. A nil dispatcher disables alerting.
func New(r *rules.Engine, s *anomaly.Scorer, p *decision.Processor, d domain.AlertDispatcher) *Engine {
	if p == nil {
		p = decision.NewProcessor()
	}
	return &Engine{rules: r, scorer: s, processor: p, dispatcher: d}
}

// Ready reports whether the anomaly model is loaded.
func (e *Engine) Ready() bool {
	return e.scorer.Ready()
}

// ModelVersion returns the loaded model version.
func (e *Engine) ModelVersion() string {
	return e.scorer.ModelVersion()
}

// Evaluate produces the final decision for in. It fails with
// domain.ErrInvalidInput, domain.ErrScorerUnavailable or the context error;
// a REJECTED decision is a normal result, not an error.
func (e *Engine) Evaluate(ctx context.Context, in *domain.TransactionInput) (*domain.FinalDecision, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "engine.evaluate",
		trace.WithAttributes(attribute.String("tx.id", in.ID)),
	)
	defer span.End()

	start := time.Now()

	var (
		wg       sync.WaitGroup
		outcome  domain.RuleOutcome
		score    float64
		scoreErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		outcome = e.rules.Evaluate(in.Amount, in.Location)
	}()
	go func() {
		defer wg.Done()
		score, scoreErr = e.scorer.Score(in.AmountFloat())
	}()
	wg.Wait()

	if scoreErr != nil {
		metrics.ScorerErrorsTotal.Inc()
		span.RecordError(scoreErr)
		span.SetStatus(codes.Error, "scorer unavailable")
		return nil, fmt.Errorf("evaluate %s: %w", in.ID, scoreErr)
	}
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	result := e.processor.Process(ctx, &decision.DecisionInput{
		TxID:         in.ID,
		Amount:       in.Amount,
		Outcome:      outcome,
		AnomalyScore: score,
		ModelVersion: e.scorer.ModelVersion(),
		StartTime:    start,
	})

	metrics.DecisionsTotal.WithLabelValues(string(result.Decision)).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	metrics.AnomalyScore.Observe(score)

	span.SetAttributes(
		attribute.String("decision", string(result.Decision)),
		attribute.Float64("score", result.Score),
		attribute.String("rule", string(result.Rule)),
		attribute.Bool("alerted", result.Alerted),
	)

	if result.Alerted && e.dispatcher != nil {
		e.dispatcher.Enqueue(domain.AlertTask{TxID: result.TxID, Score: result.Score})
	}

	slog.Debug("transaction evaluated",
		"tx_id", in.ID,
		"decision", result.Decision,
		"score", result.Score,
		"rule", result.Rule,
		"anomaly", score,
		"alerted", result.Alerted,
	)
	return result, nil
}
