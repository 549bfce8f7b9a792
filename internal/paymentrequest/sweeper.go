package paymentrequest

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/wallet-engine/internal/logging"
)

// Sweeper periodically expires overdue pending requests so they disappear
// from listings even when nobody reads them. It also settles acceptances
// whose claim outlived the claim timeout.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper. A non-positive interval disables it.
func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery and expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	recovered, err := s.service.RecoverClaims(ctx)
	if err != nil {
		s.logger.Error("payment request claim recovery failed", "error", err)
	}
	if recovered > 0 {
		s.logger.Info("payment request claims recovered", "count", recovered)
	}

	n, err := s.service.ExpireDue(ctx)
	if err != nil {
		s.logger.Error("payment request sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("payment requests expired", "count", n)
	}
}
