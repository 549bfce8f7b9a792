package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/wallet-engine/internal/metrics"
)

var (
	// ErrQueueFull is returned when the dispatcher buffer is saturated and the
	// message was dropped.
	ErrQueueFull = errors.New("notification queue full")
	// ErrDispatcherClosed is returned for sends after Close.
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

// DefaultWorkers is the number of delivery goroutines when none is set.
const DefaultWorkers = 2

// DispatcherOptions tunes a Dispatcher. Zero values pick sensible defaults.
type DispatcherOptions struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
	Metrics   *metrics.Metrics
}

// Dispatcher is a fire-and-forget Notifier. Send enqueues and returns
// immediately; background workers deliver to the wrapped notifier with a
// per-message timeout.
type Dispatcher struct {
	next    Notifier
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	queue   chan Message

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the delivery workers.
func NewDispatcher(next Notifier, logger *slog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		next:    next,
		logger:  logger,
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		queue:   make(chan Message, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Send enqueues message without blocking. The caller's context is not
// propagated: delivery outlives the request that triggered it.
func (d *Dispatcher) Send(_ context.Context, message Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- message:
		return nil
	default:
		d.metrics.Notification("dropped")
		d.logger.Warn("notification dropped", "kind", message.Kind, "to", message.To)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for message := range d.queue {
		d.deliver(message)
	}
}

func (d *Dispatcher) deliver(message Message) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Notification("failed")
			d.logger.Error("notifier panicked", "kind", message.Kind, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.next.Send(ctx, message); err != nil {
		d.metrics.Notification("failed")
		d.logger.Warn("notification delivery failed", "kind", message.Kind, "to", message.To, "error", err)
		return
	}
	d.metrics.Notification("delivered")
}
