package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-engine/internal/config"
	"github.com/congo-pay/wallet-engine/internal/httpx"
	"github.com/congo-pay/wallet-engine/internal/metrics"
	"github.com/congo-pay/wallet-engine/internal/notification"
	"github.com/congo-pay/wallet-engine/internal/paymentrequest"
	"github.com/congo-pay/wallet-engine/internal/routes"
)

// Server wraps the Fiber application, its background workers and shared
// dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	logger     *slog.Logger
	services   routes.Services
	dispatcher *notification.Dispatcher
	sweeper    *paymentrequest.Sweeper

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// New instantiates the HTTP server. Notifications go to notifier through an
// asynchronous dispatcher; a nil notifier logs them instead.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, notifier notification.Notifier, logger *slog.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	dispatcher := notification.NewDispatcher(notifier, logger, notification.DispatcherOptions{
		QueueSize: cfg.NotifyQueueSize,
		Metrics:   m,
	})

	deps := routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
		Notifier: dispatcher,
	}
	services, err := routes.NewServices(deps)
	if err != nil {
		_ = dispatcher.Close(context.Background())
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: httpx.ErrorHandler,
	})
	routes.Setup(app, deps, services)

	return &Server{
		app:        app,
		cfg:        cfg,
		logger:     logger,
		services:   services,
		dispatcher: dispatcher,
		sweeper:    paymentrequest.NewSweeper(services.Requests, cfg.SweepInterval, logger),
	}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Services exposes the wired domain services.
func (s *Server) Services() routes.Services {
	return s.services
}

// Listen starts the expiry sweeper and the HTTP server. It blocks until the
// server stops.
func (s *Server) Listen() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopSweep = cancel
	s.sweepDone = make(chan struct{})
	go func() {
		defer close(s.sweepDone)
		s.sweeper.Run(ctx)
	}()

	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then the sweeper, then drains
// queued notifications.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	if s.stopSweep != nil {
		s.stopSweep()
		select {
		case <-s.sweepDone:
		case <-ctx.Done():
		}
	}

	if derr := s.dispatcher.Close(ctx); derr != nil {
		s.logger.Warn("notifications not drained", "error", derr)
		err = errors.Join(err, derr)
	}
	return err
}
