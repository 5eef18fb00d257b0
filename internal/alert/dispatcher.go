package alert

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
	"github.com/opensource-finance/sentinelstream/internal/retry"
)

// Dispatcher queues alert tasks and delivers them with a fixed worker pool.
type Dispatcher struct {
	sink           Sink
	queue          chan domain.AlertTask
	enqueueTimeout time.Duration
	policy         retry.Policy

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers workers that deliver to sink.
func NewDispatcher(cfg domain.AlertConfig, sink Sink) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:           sink,
		queue:          make(chan domain.AlertTask, size),
		enqueueTimeout: cfg.EnqueueTimeout,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    5 * time.Second,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	slog.Info("alert dispatcher started",
		"sink", sink.Name(),
		"workers", workers,
		"queue_size", size,
	)
	return d
}

// Enqueue hands a task to the workers. It waits at most the enqueue timeout
// for queue space and drops the task when none frees up.
func (d *Dispatcher) Enqueue(task domain.AlertTask) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(task, "dispatcher closed")
		return
	}

	select {
	case d.queue <- task:
		d.accepted()
		return
	default:
	}

	if d.enqueueTimeout <= 0 {
		d.drop(task, "queue full")
		return
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()

	select {
	case d.queue <- task:
		d.accepted()
	case <-timer.C:
		d.drop(task, "queue full")
	}
}

func (d *Dispatcher) accepted() {
	metrics.AlertsEnqueuedTotal.Inc()
	metrics.AlertQueueDepth.Inc()
}

func (d *Dispatcher) drop(task domain.AlertTask, reason string) {
	metrics.AlertsDroppedTotal.Inc()
	slog.Error("alert dropped",
		"reason", reason,
		"transaction_id", task.TxID,
		"score", task.Score,
	)
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for task := range d.queue {
		metrics.AlertQueueDepth.Dec()
		d.deliver(id, task)
	}
}

func (d *Dispatcher) deliver(worker int, task domain.AlertTask) {
	err := retry.Do(d.ctx, d.policy, func(attempt int) error {
		err := d.sink.Deliver(d.ctx, task)
		if err != nil {
			slog.Warn("alert delivery attempt failed",
				"worker", worker,
				"attempt", attempt,
				"transaction_id", task.TxID,
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		metrics.AlertsFailedTotal.WithLabelValues(d.sink.Name()).Inc()
		slog.Error("alert delivery failed",
			"sink", d.sink.Name(),
			"transaction_id", task.TxID,
			"error", err,
		)
		return
	}
	metrics.AlertsDeliveredTotal.WithLabelValues(d.sink.Name()).Inc()
}

// Close stops accepting tasks and waits for queued tasks to be delivered.
// When ctx expires first the remaining deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.cancel()
	<-done

	if c, ok := d.sink.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			slog.Warn("alert sink close failed", "sink", d.sink.Name(), "error", cerr)
		}
	}
	return err
}

// Pending returns the number of queued tasks.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
