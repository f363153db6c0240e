package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletd/internal/admin"
	"github.com/congo-pay/walletd/internal/auth"
	"github.com/congo-pay/walletd/internal/config"
	"github.com/congo-pay/walletd/internal/identity"
	"github.com/congo-pay/walletd/internal/journal"
	"github.com/congo-pay/walletd/internal/ledger"
	"github.com/congo-pay/walletd/internal/middleware"
	"github.com/congo-pay/walletd/internal/notification"
	"github.com/congo-pay/walletd/internal/payments"
	"github.com/congo-pay/walletd/internal/wallet"
)

const bootstrapTimeout = 30 * time.Second

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// Journal are optional; the configuration decides which must be present.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Journal *journal.Journal
	Logger  *slog.Logger
}

// Setup builds the services, bootstraps the admin account and registers every
// route on app.
func Setup(app *fiber.App, d Deps) error {
	if d.Cfg.StoreDriver == config.StorePostgres && d.DB == nil {
		return fmt.Errorf("database is required when STORE_DRIVER=%s", config.StorePostgres)
	}
	if d.Cfg.LockBackend == config.LockRedis && d.Cache == nil {
		return fmt.Errorf("redis is required when LOCK_BACKEND=%s", config.LockRedis)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Storage
	var (
		store ledger.Store
		users identity.Repository
	)
	if d.Cfg.StoreDriver == config.StorePostgres {
		store = ledger.NewPostgresStore(d.DB)
		users = identity.NewPostgresRepository(d.DB)
	} else {
		var opts []ledger.MemoryOption
		if d.Journal != nil {
			opts = append(opts, ledger.WithJournal(d.Journal))
		}
		mem, err := ledger.NewMemoryStore(opts...)
		if err != nil {
			return err
		}
		store = mem
		if users, err = identity.NewMemoryRepository(d.Journal); err != nil {
			return err
		}
	}

	var locker ledger.Locker = ledger.NewKeyedMutex()
	if d.Cfg.LockBackend == config.LockRedis {
		locker = ledger.NewRedisLocker(d.Cache, d.Cfg.LockTTL)
	}

	// Services and handlers
	engine := ledger.NewEngine(store,
		ledger.WithLocker(locker),
		ledger.WithNameResolver(identity.NewNameResolver(users)),
		ledger.WithLogger(d.Logger),
	)
	identitySvc := identity.NewService(users, engine,
		identity.WithLocker(locker),
		identity.WithLogger(d.Logger),
		identity.WithAdminCredential(d.Cfg.AdminCredential),
	)
	if err := bootstrap(identitySvc, d.Logger); err != nil {
		return err
	}

	notifiers := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil {
		notifiers = append(notifiers, notification.NewRedisNotifier(d.Cache))
	}

	authSvc := auth.NewService(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL)
	walletSvc := wallet.NewService(engine)
	paymentSvc := payments.NewService(engine, identitySvc, notifiers, d.Logger)
	adminSvc := admin.NewService(identitySvc, engine)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc))
	var rateLimiter fiber.Handler
	if d.Cache != nil {
		rateLimiter = middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit)
	}
	RegisterAuthRoutes(api, auth.NewHandler(identitySvc, authSvc), rateLimiter)

	// Session routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterProfileRoute(protected, identitySvc, walletSvc)
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc), idempotency)
	RegisterPaymentRoutes(protected, payments.NewHandler(paymentSvc), idempotency)
	RegisterAdminRoutes(protected, admin.NewHandler(adminSvc))

	return nil
}

// bootstrap guarantees the admin account and repairs users left without a
// wallet by an earlier crash.
func bootstrap(ids *identity.Service, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	adminUser, err := ids.EnsureAdminExists(ctx)
	if err != nil {
		return err
	}
	repaired, err := ids.ProvisionMissingWallets(ctx)
	if err != nil {
		return err
	}
	logger.Info("directory ready", slog.String("admin_id", adminUser.ID), slog.Int("wallets_repaired", repaired))
	return nil
}

func withOptional(mw fiber.Handler, h fiber.Handler) []fiber.Handler {
	if mw == nil {
		return []fiber.Handler{h}
	}
	return []fiber.Handler{mw, h}
}
