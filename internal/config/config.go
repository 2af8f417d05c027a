package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName          = "OnrampPay"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultRPCTimeout       = 15 * time.Second
	defaultLockTTL          = 30 * time.Second
	defaultRPCURL           = "https://sepolia.drpc.org"
	defaultChainID          = 11155111
	defaultSpendingLimit    = "1.0"
	defaultFuzzyPrecision   = 32
	defaultFuzzyTolerance   = 6
	defaultPaymentAttempts  = 10
	defaultRPCRatePerSecond = 10.0
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	accessTTLSecondsEnvVar  = "ACCESS_TOKEN_TTL_SECONDS"
	accessTTLDurEnvVar      = "ACCESS_TOKEN_TTL"
	rpcTimeoutSecondsEnvVar = "RPC_TIMEOUT_SECONDS"
	rpcTimeoutDurEnvVar     = "RPC_TIMEOUT"
	lockTTLSecondsEnvVar    = "LOCK_TTL_SECONDS"
	lockTTLDurEnvVar        = "LOCK_TTL"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret      string
	AccessTokenTTL time.Duration

	// RPCURL is the node endpoint. "memory" selects the in-process node.
	RPCURL       string
	ChainID      int64
	RPCTimeout   time.Duration
	RPCRateLimit float64

	SpendingLimit  decimal.Decimal
	MerchantsFile  string
	FuzzyPrecision int
	FuzzyTolerance int

	LockTTL                  time.Duration
	PaymentAttemptsPerMinute int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AccessTokenTTL: defaultAccessTokenTTL,
		RPCURL:         getEnv("RPC_URL", defaultRPCURL),
		ChainID:        defaultChainID,
		RPCTimeout:     defaultRPCTimeout,
		RPCRateLimit:   defaultRPCRatePerSecond,
		MerchantsFile:  os.Getenv("MERCHANTS_FILE"),
		FuzzyPrecision: defaultFuzzyPrecision,
		FuzzyTolerance: defaultFuzzyTolerance,
		LockTTL:        defaultLockTTL,

		PaymentAttemptsPerMinute: defaultPaymentAttempts,
	}

	durations := []struct {
		seconds, duration string
		target            *time.Duration
	}{
		{shutdownSecondsEnvVar, shutdownDurationEnvVar, &cfg.ShutdownPeriod},
		{idemTTLSecondsEnvVar, idemTTLDurEnvVar, &cfg.IdempotencyTTL},
		{accessTTLSecondsEnvVar, accessTTLDurEnvVar, &cfg.AccessTokenTTL},
		{rpcTimeoutSecondsEnvVar, rpcTimeoutDurEnvVar, &cfg.RPCTimeout},
		{lockTTLSecondsEnvVar, lockTTLDurEnvVar, &cfg.LockTTL},
	}
	for _, d := range durations {
		if err := loadDuration(d.seconds, d.duration, d.target); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"FUZZY_PRECISION", &cfg.FuzzyPrecision},
		{"FUZZY_TOLERANCE", &cfg.FuzzyTolerance},
		{"PAYMENT_ATTEMPTS_PER_MINUTE", &cfg.PaymentAttemptsPerMinute},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", i.key, err)
			}
			*i.target = n
		}
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return Config{}, fmt.Errorf("invalid CHAIN_ID: %q", v)
		}
		cfg.ChainID = id
	}

	if v := os.Getenv("RPC_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RPC_RATE_LIMIT: %w", err)
		}
		cfg.RPCRateLimit = rps
	}

	limit, err := decimal.NewFromString(getEnv("SPENDING_LIMIT_ETH", defaultSpendingLimit))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SPENDING_LIMIT_ETH: %w", err)
	}
	if !limit.IsPositive() {
		return Config{}, fmt.Errorf("SPENDING_LIMIT_ETH must be positive")
	}
	cfg.SpendingLimit = limit

	if cfg.IsDevelopment() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "dev-secret-change-me"
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	return cfg, nil
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == defaultAppEnv
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func loadDuration(secondsKey, durationKey string, target *time.Duration) error {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		*target = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		*target = d
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
