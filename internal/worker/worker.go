// Package worker evaluates bulk-ingested transactions from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
)

// Evaluator produces final decisions.
type Evaluator interface {
	Evaluate(ctx context.Context, in *domain.TransactionInput) (*domain.FinalDecision, error)
}

// UserResolver maps an external user code to its internal key.
type UserResolver interface {
	Resolve(ctx context.Context, code string) (int64, error)
}

// Ingest results recorded in metrics.IngestTotal.
const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
)

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine Evaluator
	users  UserResolver

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. repo and users may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine Evaluator, users UserResolver) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: engine,
		users:  users,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingest topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicTransactionIngested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("ingest worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	result, err := w.process(ctx, msg)
	metrics.IngestTotal.WithLabelValues(result).Inc()
	return err
}

// process evaluates one ingested transaction and returns its ingest result.
func (w *Worker) process(ctx context.Context, msg *domain.Message) (string, error) {
	start := time.Now()

	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return ResultInvalid, err
	}
	if err := req.Validate(); err != nil {
		slog.Warn("invalid ingested transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return ResultInvalid, err
	}

	if w.repo != nil {
		exists, err := w.repo.TransactionExists(ctx, req.TransactionID)
		if err != nil {
			slog.Error("failed to check transaction", "tx_id", req.TransactionID, "error", err)
			return ResultFailed, err
		}
		if exists {
			slog.Debug("skipping already processed transaction", "tx_id", req.TransactionID)
			return ResultDuplicate, nil
		}
	}

	var userKey int64
	if w.users != nil {
		key, err := w.users.Resolve(ctx, req.UserID)
		if err != nil {
			slog.Error("failed to resolve user", "user", req.UserID, "error", err)
			return ResultFailed, err
		}
		userKey = key
	}

	in := req.ToInput(userKey)
	result, err := w.engine.Evaluate(ctx, in)
	if err != nil {
		slog.Error("ingested transaction evaluation failed",
			"tx_id", in.ID,
			"error", err,
		)
		return ResultFailed, err
	}

	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, domain.NewTransaction(in, result)); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return ResultDuplicate, nil
			}
			metrics.PersistFailuresTotal.WithLabelValues("bulk").Inc()
			slog.Error("failed to save transaction", "tx_id", in.ID, "error", err)
			return ResultFailed, err
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return ResultFailed, err
	}
	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"tx_id", in.ID,
			"error", err,
		)
	}

	slog.Info("ingested transaction processed",
		"tx_id", in.ID,
		"decision", result.Decision,
		"score", result.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ResultProcessed, nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("ingest worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

// Submit publishes a transaction for asynchronous evaluation.
func Submit(ctx context.Context, bus domain.EventBus, req *domain.TransactionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	if err := bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		return fmt.Errorf("publish transaction %s: %w", req.TransactionID, err)
	}
	return nil
}
