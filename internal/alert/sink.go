// Package alert delivers high-risk transaction alerts off the request path.
//
// Delivery is at-least-once: a task may reach a sink more than once, so
// every consumer must deduplicate on the transaction id.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// Sink delivers a single alert task.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, task domain.AlertTask) error
}

// LogSink writes alerts as warning log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return domain.AlertSinkLog }

func (s *LogSink) Deliver(ctx context.Context, task domain.AlertTask) error {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "[ALERT] HIGH RISK FRAUD",
		"transaction_id", task.TxID,
		"score", task.Score,
	)
	return nil
}

// BusSink publishes alerts on the event bus alert topic.
type BusSink struct {
	bus domain.EventBus
}

func NewBusSink(bus domain.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return domain.AlertSinkBus }

func (s *BusSink) Deliver(ctx context.Context, task domain.AlertTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// NewSink builds the sink named by kind. The bus is only required for the bus sink.
func NewSink(kind string, cfg domain.AlertConfig, bus domain.EventBus) (Sink, error) {
	switch kind {
	case domain.AlertSinkLog, "":
		return NewLogSink(nil), nil
	case domain.AlertSinkWebhook:
		s, err := NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case domain.AlertSinkBus:
		if bus == nil {
			return nil, fmt.Errorf("%w: bus alert sink needs an event bus", domain.ErrInvalidInput)
		}
		return NewBusSink(bus), nil
	case domain.AlertSinkAsynq:
		return NewAsynqSink(cfg.AsynqRedisAddr, cfg.AsynqRedisPassword, cfg.AsynqQueue), nil
	default:
		return nil, fmt.Errorf("%w: unknown alert sink %q", domain.ErrInvalidInput, kind)
	}
}
