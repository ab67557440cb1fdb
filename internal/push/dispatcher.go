package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
)

// ErrQueueFull is returned by Emit when the delivery queue has no room.
var ErrQueueFull = errors.New("push queue full")

// ErrClosed is returned by Emit after Shutdown.
var ErrClosed = errors.New("push dispatcher closed")

// Transport delivers one event. *Sender implements it.
type Transport interface {
	Send(ctx context.Context, action string, data json.RawMessage) error
}

// Options tune a Dispatcher.
type Options struct {
	Workers     int
	QueueDepth  int
	MaxAttempts int
	RetryDelay  time.Duration
}

type delivery struct {
	action string
	data   json.RawMessage
}

// Dispatcher is the Node's background delivery queue. Events are sent by a
// bounded worker pool with a fixed number of attempts each.
type Dispatcher struct {
	transport Transport
	opts      Options
	pool      *pool[delivery]

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the delivery workers. They stop when ctx is cancelled
// or Shutdown is called.
func NewDispatcher(ctx context.Context, t Transport, opts Options) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	d := &Dispatcher{transport: t, opts: opts}
	d.pool = newPool(ctx, opts.Workers, opts.QueueDepth, d.deliver)
	return d
}

// Emit queues a locally originated event for delivery. It does nothing when
// ctx is marked by event.WithoutEmission.
func (d *Dispatcher) Emit(ctx context.Context, action string, data any) error {
	if event.EmissionSuppressed(ctx) {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", action, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if !d.pool.submit(delivery{action: action, data: raw}) {
		metrics.PushesDropped.Inc()
		return ErrQueueFull
	}
	metrics.PushQueueUtilization.Set(d.pool.utilization())
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, job delivery) {
	defer metrics.PushQueueUtilization.Set(d.pool.utilization())
	for attempt := 1; ; attempt++ {
		err := d.transport.Send(ctx, job.action, job.data)
		if err == nil {
			metrics.PushesSent.WithLabelValues("success").Inc()
			return
		}

		var se *StatusError
		permanent := errors.As(err, &se) && !se.Retryable()
		if permanent || attempt >= d.opts.MaxAttempts {
			metrics.PushesSent.WithLabelValues("failed").Inc()
			slog.Error("push delivery failed", "action", job.action, "attempts", attempt, "err", err)
			return
		}
		metrics.PushesSent.WithLabelValues("retry").Inc()
		slog.Warn("push delivery failed, retrying", "action", job.action, "attempt", attempt, "err", err)

		select {
		case <-time.After(d.opts.RetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops accepting events and waits for queued deliveries.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.pool.drain()
}
