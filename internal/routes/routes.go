package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-engine/internal/admin"
	"github.com/congo-pay/wallet-engine/internal/config"
	"github.com/congo-pay/wallet-engine/internal/directory"
	"github.com/congo-pay/wallet-engine/internal/httpx"
	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/metrics"
	"github.com/congo-pay/wallet-engine/internal/middleware"
	"github.com/congo-pay/wallet-engine/internal/notification"
	"github.com/congo-pay/wallet-engine/internal/paymentrequest"
	"github.com/congo-pay/wallet-engine/internal/payments"
	"github.com/congo-pay/wallet-engine/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Notifier must not block; the server passes its Dispatcher.
	Notifier notification.Notifier
}

// Services are the domain services behind the HTTP surface.
type Services struct {
	Ledger    *ledger.Service
	Directory directory.Repository
	Wallet    *wallet.Service
	Payments  *payments.Service
	Requests  *paymentrequest.Service
	Admin     *admin.Service
}

// NewServices builds the domain services on Postgres when a pool is given and
// on in-memory stores otherwise.
func NewServices(d Deps) (Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return Services{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return Services{}, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	var (
		store    ledger.Store
		dir      directory.Repository
		requests paymentrequest.Repository
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB, d.Cfg.LockTimeout)
		dir = directory.NewPostgresRepository(d.DB)
		requests = paymentrequest.NewPostgresRepository(d.DB)
	} else {
		store = ledger.NewMemoryStore(d.Cfg.LockTimeout)
		dir = directory.NewMemoryRepository()
		requests = paymentrequest.NewMemoryRepository()
	}

	ledgerSvc := ledger.NewService(store, ledger.WithLogger(d.Logger), ledger.WithMetrics(d.Metrics))
	return Services{
		Ledger:    ledgerSvc,
		Directory: dir,
		Wallet:    wallet.NewService(dir, ledgerSvc),
		Payments:  payments.NewService(ledgerSvc, dir, d.Notifier, d.Logger),
		Requests: paymentrequest.NewService(requests, ledgerSvc, dir, d.Notifier, paymentrequest.Options{
			TTL:          d.Cfg.RequestTTL,
			ClaimTimeout: d.Cfg.ClaimTimeout,
			Logger:       d.Logger,
			Metrics:      d.Metrics,
		}),
		Admin: admin.NewService(ledgerSvc, admin.Options{
			Concurrency: d.Cfg.BulkConcurrency,
			Logger:      d.Logger,
			Metrics:     d.Metrics,
		}),
	}, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s Services) {
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics(d.Metrics))

	// Health
	RegisterHealthRoutes(app, d)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(httpx.LocalRequestID).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Operator routes
	operator := api.Group("/admin", middleware.AdminKey(d.Cfg.AdminKeyHash))
	RegisterAdminRoutes(operator, admin.NewHandler(s.Admin), wallet.NewHandler(s.Wallet))

	// Account routes, authenticated by the identity gateway
	account := api.Group("", middleware.Account())
	RegisterWalletRoutes(account, wallet.NewHandler(s.Wallet))
	RegisterPaymentRoutes(account, payments.NewHandler(s.Payments),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, true, d.Logger))
	RegisterPaymentRequestRoutes(account, paymentrequest.NewHandler(s.Requests),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, false, d.Logger),
		middleware.RateLimit(d.Cache, "payment_request", d.Cfg.RequestRateMax, time.Minute))
}
