package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects deliveries.
var ErrCircuitOpen = errors.New("notification circuit open")

// BreakerSettings configures a BreakerNotifier.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerNotifier stops calling a failing downstream for OpenTimeout after
// ConsecutiveFailures errors in a row.
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerNotifier wraps next in a circuit breaker.
func NewBreakerNotifier(next Notifier, logger *slog.Logger, settings BreakerSettings) *BreakerNotifier {
	if settings.Name == "" {
		settings.Name = "notifier"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notifier circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerNotifier{next: next, cb: cb}
}

// Send delivers through the breaker.
func (b *BreakerNotifier) Send(ctx context.Context, message Message) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerNotifier) State() string {
	return b.cb.State().String()
}
