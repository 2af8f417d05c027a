package server

import (
    "context"
    "log/slog"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/onramp-pay/onramp_pay/internal/chain"
    "github.com/onramp-pay/onramp_pay/internal/config"
    "github.com/onramp-pay/onramp_pay/internal/metrics"
    "github.com/onramp-pay/onramp_pay/internal/routes"
)

// bodyLimit leaves room for a fingerprint upload plus form fields.
const bodyLimit = 10 << 20

// Server wraps the Fiber application and shared dependencies.
type Server struct {
    app   *fiber.App
    cfg   config.Config
    db    *pgxpool.Pool
    cache *redis.Client
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, client chain.Client, logger *slog.Logger) (*Server, error) {
    app := fiber.New(fiber.Config{
        AppName:      cfg.AppName,
        BodyLimit:    bodyLimit,
        ReadTimeout:  30 * time.Second,
        WriteTimeout: cfg.RPCTimeout + 30*time.Second,
    })

    deps := routes.Deps{
        Cfg:     cfg,
        DB:      db,
        Cache:   cache,
        Chain:   client,
        Metrics: metrics.New(),
        Logger:  logger,
    }
    if err := routes.Setup(app, deps); err != nil {
        return nil, err
    }

    return &Server{app: app, cfg: cfg, db: db, cache: cache}, nil
}

// App exposes the underlying Fiber app, mainly for in-process tests.
func (s *Server) App() *fiber.App {
    return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
    return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
    return s.app.ShutdownWithContext(ctx)
}
