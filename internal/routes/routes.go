package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/onramp-pay/onramp_pay/internal/auth"
	"github.com/onramp-pay/onramp_pay/internal/biometric"
	"github.com/onramp-pay/onramp_pay/internal/chain"
	"github.com/onramp-pay/onramp_pay/internal/config"
	"github.com/onramp-pay/onramp_pay/internal/fuzzy"
	"github.com/onramp-pay/onramp_pay/internal/identity"
	"github.com/onramp-pay/onramp_pay/internal/journal"
	"github.com/onramp-pay/onramp_pay/internal/lock"
	"github.com/onramp-pay/onramp_pay/internal/merchant"
	"github.com/onramp-pay/onramp_pay/internal/metrics"
	"github.com/onramp-pay/onramp_pay/internal/middleware"
	"github.com/onramp-pay/onramp_pay/internal/notification"
	"github.com/onramp-pay/onramp_pay/internal/payments"
	"github.com/onramp-pay/onramp_pay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Chain   chain.Client
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Chain == nil {
		return fmt.Errorf("chain client is required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health and metrics
	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// Stores
	var (
		credentialRepo identity.Repository
		merchantRepo   merchant.Repository
		journalBackend journal.Journal
		locks          lock.Locker
		notifier       notification.Notifier
	)
	if d.DB != nil {
		credentialRepo = identity.NewPostgresRepository(d.DB)
		journalBackend = journal.NewPostgresJournal(d.DB)
	} else {
		credentialRepo = identity.NewMemoryRepository()
		journalBackend = journal.NewInMemory()
	}
	switch {
	case d.Cfg.MerchantsFile != "":
		fileRepo, err := merchant.OpenFile(d.Cfg.MerchantsFile)
		if err != nil {
			return err
		}
		merchantRepo = fileRepo
	case d.DB != nil:
		merchantRepo = merchant.NewPostgresRepository(d.DB)
	default:
		merchantRepo = merchant.NewMemoryRepository()
	}
	if d.Cache != nil {
		locks = lock.NewRedis(d.Cache, d.Cfg.LockTTL)
		notifier = notification.Fanout{
			notification.NewLoggerNotifier(d.Logger),
			notification.NewRedisNotifier(d.Cache, ""),
		}
	} else {
		locks = lock.NewMemory()
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	// Services and handlers
	extractor, err := fuzzy.New(d.Cfg.FuzzyPrecision, d.Cfg.FuzzyTolerance)
	if err != nil {
		return err
	}
	encoder := biometric.NewEncoder()
	tokens, err := auth.NewService(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL)
	if err != nil {
		return err
	}
	identitySvc := identity.NewService(credentialRepo, encoder, extractor, locks).Observe(d.Metrics)
	merchantSvc := merchant.NewService(merchantRepo)
	walletSvc := wallet.NewService(identitySvc, d.Chain, d.Cfg.SpendingLimit)
	paymentSvc := payments.NewService(payments.Dependencies{
		Catalog:       merchantSvc,
		Credentials:   identitySvc,
		Encoder:       encoder,
		Extractor:     extractor,
		Chain:         d.Chain,
		Locks:         locks,
		Journal:       journalBackend,
		Notifier:      notifier,
		Observer:      d.Metrics,
		Logger:        d.Logger,
		SpendingLimit: d.Cfg.SpendingLimit,
	})

	identityHandler := identity.NewHandler(identitySvc, tokens)
	merchantHandler := merchant.NewHandler(merchantSvc)
	paymentHandler := payments.NewHandler(paymentSvc)
	walletHandler := wallet.NewHandler(walletSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"chain_id":   d.Chain.ChainID().String(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(tokens))

	RegisterEnrollmentRoutes(api, protected, identityHandler)
	RegisterMerchantRoutes(api, protected, merchantHandler)
	RegisterWalletRoutes(protected, walletHandler)

	guards := []fiber.Handler{middleware.PaymentRateLimit(d.Cache, d.Cfg.PaymentAttemptsPerMinute)}
	if d.Cache != nil {
		guards = append(guards, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterPaymentRoutes(protected, paymentHandler, guards...)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
