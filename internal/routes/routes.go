package routes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/portera/portera/internal/audit"
	"github.com/portera/portera/internal/config"
	"github.com/portera/portera/internal/escrow"
	"github.com/portera/portera/internal/ledger"
	"github.com/portera/portera/internal/middleware"
	"github.com/portera/portera/internal/notification"
	"github.com/portera/portera/internal/order"
	"github.com/portera/portera/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Requests is the external request-status collaborator; nil leaves
	// parent requests untouched when orders complete.
	Requests order.RequestUpdater
}

// Setup configures middlewares and all application routes. It returns the
// escrow service so the caller can drive the periodic release ticker.
func Setup(app *fiber.App, d Deps) (*escrow.Service, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	// Storage backends; dev mode falls back to in-memory implementations.
	var sink audit.Sink
	if d.DB != nil {
		sink = audit.NewPostgresSink(d.DB)
	} else {
		sink = audit.NewLoggerSink(d.Logger)
	}

	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgres(d.DB, sink)
	} else {
		ledgerBackend = ledger.NewMemory(sink)
	}

	var walletRepo wallet.Repository
	if d.DB != nil {
		walletRepo = wallet.NewPostgresRepository(d.DB)
	} else {
		walletRepo = wallet.NewMemoryRepository()
	}
	walletSvc := wallet.NewService(walletRepo, ledgerBackend)

	var orderRepo order.Repository
	if d.DB != nil {
		orderRepo = order.NewPostgresRepository(d.DB, d.Requests)
	} else {
		orderRepo = order.NewMemoryRepository(d.Requests)
	}
	orderSvc := order.NewService(orderRepo, ledgerBackend, walletSvc, sink)

	var locker escrow.Locker
	if d.Cache != nil {
		locker = escrow.NewRedisLocker(d.Cache, d.Cfg.ReleaseRunTimeout)
	}
	escrowSvc := escrow.NewService(orderRepo, walletSvc, ledgerBackend, sink, d.Logger, escrow.Config{
		Workers:  d.Cfg.ReleaseWorkers,
		Locker:   locker,
		Notifier: notification.NewLoggerNotifier(d.Logger),
	})

	// Operational surfaces
	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app)
	RegisterEscrowRoutes(app, d.Cfg, escrow.NewHandler(escrowSvc))

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDKey).(string)
		return c.JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	if d.Cache != nil {
		api.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(api, d.Cfg, wallet.NewHandler(walletSvc))
	RegisterOrderRoutes(api, order.NewHandler(orderSvc))

	return escrowSvc, nil
}
