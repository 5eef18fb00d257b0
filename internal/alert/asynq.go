package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
	"github.com/opensource-finance/sentinelstream/internal/retry"
)

// TypeFraudAlert is the asynq task type for alert tasks.
const TypeFraudAlert = "alert:fraud"

// deliveredTTL bounds how long a consumer remembers a delivered transaction id.
const deliveredTTL = 24 * time.Hour

// AsynqSink enqueues alerts onto a durable Redis queue. The transaction id is
// used as the task id, so a repeated enqueue for the same transaction is a no-op.
type AsynqSink struct {
	client *asynq.Client
	queue  string
}

func NewAsynqSink(addr, password, queue string) *AsynqSink {
	if queue == "" {
		queue = "alerts"
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: addr, Password: password})
	return &AsynqSink{client: client, queue: queue}
}

func (s *AsynqSink) Name() string { return domain.AlertSinkAsynq }

func (s *AsynqSink) Deliver(ctx context.Context, task domain.AlertTask) error {
	t, err := NewAlertTask(task)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, t,
		asynq.TaskID(task.TxID),
		asynq.Queue(s.queue),
		asynq.MaxRetry(10),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue alert task: %w", err)
	}
	slog.Debug("alert task enqueued", "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Close releases the Redis connection.
func (s *AsynqSink) Close() error {
	return s.client.Close()
}

// NewAlertTask encodes an alert as an asynq task.
func NewAlertTask(task domain.AlertTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	return asynq.NewTask(TypeFraudAlert, payload), nil
}

// Handler consumes alert tasks and forwards them to a downstream sink.
// Transaction ids that were already delivered are skipped.
type Handler struct {
	sink Sink
	seen domain.Cache
}

// NewHandler creates a consumer. A nil cache disables deduplication.
func NewHandler(sink Sink, seen domain.Cache) *Handler {
	return &Handler{sink: sink, seen: seen}
}

// ProcessTask implements asynq.Handler.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task domain.AlertTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode alert task: %v: %w", err, asynq.SkipRetry)
	}
	if task.TxID == "" {
		return fmt.Errorf("alert task without transaction id: %w", asynq.SkipRetry)
	}

	key := "alert:delivered:" + task.TxID
	if h.seen != nil {
		if v, err := h.seen.Get(ctx, key); err == nil && v != nil {
			slog.Debug("skipping duplicate alert", "transaction_id", task.TxID)
			return nil
		}
	}

	if err := h.sink.Deliver(ctx, task); err != nil {
		metrics.AlertsFailedTotal.WithLabelValues(h.sink.Name()).Inc()
		var pe *retry.PermanentError
		if errors.As(err, &pe) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	metrics.AlertsDeliveredTotal.WithLabelValues(h.sink.Name()).Inc()

	if h.seen != nil {
		if err := h.seen.Set(ctx, key, []byte("1"), deliveredTTL); err != nil {
			slog.Warn("failed to record delivered alert", "transaction_id", task.TxID, "error", err)
		}
	}
	return nil
}

// NewServer creates the asynq consumer server for the configured alert queue.
func NewServer(cfg domain.AlertConfig) *asynq.Server {
	queue := cfg.AsynqQueue
	if queue == "" {
		queue = "alerts"
	}
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.AsynqRedisAddr, Password: cfg.AsynqRedisPassword},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
			Queues:      map[string]int{queue: 10},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				slog.Error("alert task failed",
					"task_type", task.Type(),
					"retry", retried,
					"error", err,
				)
			}),
		},
	)
}

// NewServeMux routes alert tasks to h.
func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeFraudAlert, h)
	return mux
}
