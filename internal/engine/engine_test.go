package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinelstream/internal/anomaly"
	"github.com/opensource-finance/sentinelstream/internal/decision"
	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/rules"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []domain.AlertTask
}

func (d *recordingDispatcher) Enqueue(task domain.AlertTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

type constModel struct{ value float64 }

func (m constModel) DecisionFunction(float64) float64 { return m.value }
func (m constModel) Version() string                  { return "const" }

func newTestEngine(t *testing.T, model anomaly.Model, d domain.AlertDispatcher) *Engine {
	t.Helper()
	r, err := rules.NewDefaultEngine()
	if err != nil {
		t.Fatalf("failed to build rules: %v", err)
	}
	return New(r, anomaly.NewScorer(model), decision.NewProcessor(), d)
}

func input(id, amount, location string) *domain.TransactionInput {
	return &domain.TransactionInput{
		ID:       id,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
		Location: location,
	}
}

func TestEvaluate(t *testing.T) {
	forest, err := anomaly.LoadForestFile("../../models/isolation_forest.json")
	if err != nil {
		t.Fatalf("failed to load model: %v", err)
	}

	t.Run("high amount from suspicious location is rejected and alerted", func(t *testing.T) {
		d := &recordingDispatcher{}
		e := newTestEngine(t, forest, d)

		res, err := e.Evaluate(context.Background(), input("tx-1", "12000", "Nigeria"))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if res.Decision != domain.DecisionRejected {
			t.Errorf("expected REJECTED, got %s", res.Decision)
		}
		if res.RuleRisk != 100 {
			t.Errorf("expected rule risk 100, got %d", res.RuleRisk)
		}
		if res.Rule != domain.RuleSuspiciousLocation {
			t.Errorf("expected SUSPICIOUS_LOCATION, got %s", res.Rule)
		}
		if !res.Alerted || d.count() != 1 {
			t.Errorf("expected one alert, alerted=%v enqueued=%d", res.Alerted, d.count())
		}
		if d.tasks[0].TxID != "tx-1" || d.tasks[0].Score != res.Score {
			t.Errorf("unexpected alert task %+v", d.tasks[0])
		}
		if res.ModelVersion != forest.Version() {
			t.Errorf("expected model version %s, got %s", forest.Version(), res.ModelVersion)
		}
	})

	t.Run("small amount is accepted without alert", func(t *testing.T) {
		d := &recordingDispatcher{}
		e := newTestEngine(t, forest, d)

		res, err := e.Evaluate(context.Background(), input("tx-2", "500", "UK"))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if res.Decision != domain.DecisionAccepted {
			t.Errorf("expected ACCEPTED, got %s", res.Decision)
		}
		if res.Alerted || d.count() != 0 {
			t.Error("expected no alert")
		}
		if len(res.Reasons) == 0 {
			t.Error("expected at least one reason")
		}
	})

	t.Run("score is rule risk plus anomaly", func(t *testing.T) {
		e := newTestEngine(t, constModel{value: 0.7}, nil)

		res, err := e.Evaluate(context.Background(), input("tx-3", "6000", "USA"))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if math.Abs(res.AnomalyScore-30) > 1e-9 {
			t.Errorf("expected anomaly 30, got %v", res.AnomalyScore)
		}
		if math.Abs(res.Score-70) > 1e-9 {
			t.Errorf("expected score 70, got %v", res.Score)
		}
		if res.Decision != domain.DecisionReview {
			t.Errorf("expected REVIEW, got %s", res.Decision)
		}
		if res.Alerted {
			t.Error("70 is below the alert threshold")
		}
	})

	t.Run("missing model is scorer unavailable", func(t *testing.T) {
		e := newTestEngine(t, nil, &recordingDispatcher{})

		_, err := e.Evaluate(context.Background(), input("tx-4", "12000", "Nigeria"))
		if !errors.Is(err, domain.ErrScorerUnavailable) {
			t.Errorf("expected ErrScorerUnavailable, got %v", err)
		}
		if e.Ready() {
			t.Error("engine without model must not be ready")
		}
	})

	t.Run("NaN model output is scorer unavailable", func(t *testing.T) {
		e := newTestEngine(t, constModel{value: math.NaN()}, nil)

		_, err := e.Evaluate(context.Background(), input("tx-5", "2000", "UK"))
		if !errors.Is(err, domain.ErrScorerUnavailable) {
			t.Errorf("expected ErrScorerUnavailable, got %v", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		e := newTestEngine(t, forest, nil)

		_, err := e.Evaluate(context.Background(), input("tx-6", "-1", "UK"))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		_, err = e.Evaluate(context.Background(), nil)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for nil input, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		d := &recordingDispatcher{}
		e := newTestEngine(t, forest, d)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.Evaluate(ctx, input("tx-7", "12000", "Nigeria"))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if d.count() != 0 {
			t.Error("cancelled evaluation must not alert")
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		e := newTestEngine(t, forest, nil)
		a, _ := e.Evaluate(context.Background(), input("tx-8", "8000", "russia"))
		b, _ := e.Evaluate(context.Background(), input("tx-8", "8000", "russia"))
		if a.Decision != b.Decision || a.Score != b.Score || len(a.Reasons) != len(b.Reasons) {
			t.Errorf("expected identical results, got %+v and %+v", a, b)
		}
	})

	t.Run("concurrent evaluations", func(t *testing.T) {
		d := &recordingDispatcher{}
		e := newTestEngine(t, forest, d)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.Evaluate(context.Background(), input("tx-c", "12000", "Russia")); err != nil {
					t.Errorf("Evaluate failed: %v", err)
				}
			}()
		}
		wg.Wait()
		if d.count() != 50 {
			t.Errorf("expected 50 alerts, got %d", d.count())
		}
	})
}
