package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agrolend/agrolend/internal/policy"
)

const (
	defaultAppName        = "AgroLend"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultDevSecret      = "dev-only-secret-change-me"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	LoginPerMinute  int
	RateLimitRPS    float64
	RateLimitBurst  int

	LockTTL  time.Duration
	LockWait time.Duration

	WithdrawalDelay      time.Duration
	WithdrawalSweepSpec  string
	WithdrawalStaleAfter time.Duration
	OutboxDrainSpec      string
	OutboxMaxAttempts    int
	OutboxBatch          int

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPSender   string

	Lending policy.Lending
	// SeedDemoData loads sample loan applications into the in-memory store.
	SeedDemoData bool
}

// Load reads an optional .env file, then configuration values from the
// environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv populates a Config from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		Env:                 strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RefreshSecret:       os.Getenv("JWT_REFRESH_SECRET"),
		WithdrawalSweepSpec: getEnv("WITHDRAWAL_SWEEP_SCHEDULE", "@every 1m"),
		OutboxDrainSpec:     getEnv("OUTBOX_DRAIN_SCHEDULE", "@every 30s"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            getEnv("SMTP_PORT", "587"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		SMTPSender:          getEnv("SMTP_SENDER", "AgroLend <no-reply@agrolend.local>"),
		Lending:             policy.DefaultLending(),
	}

	var errs []error
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod, defaultShutdownDelay},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL, defaultIdempotencyTTL},
		{"ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL, 15 * time.Minute},
		{"REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL, 7 * 24 * time.Hour},
		{"WALLET_LOCK_TTL", &cfg.LockTTL, 30 * time.Second},
		{"WALLET_LOCK_WAIT", &cfg.LockWait, 5 * time.Second},
		{"WITHDRAWAL_DELAY", &cfg.WithdrawalDelay, 5 * time.Second},
		{"WITHDRAWAL_STALE_AFTER", &cfg.WithdrawalStaleAfter, 2 * time.Minute},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"LOGIN_ATTEMPTS_PER_MINUTE", &cfg.LoginPerMinute, 5},
		{"RATE_LIMIT_BURST", &cfg.RateLimitBurst, 40},
		{"OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, 5},
		{"OUTBOX_BATCH", &cfg.OutboxBatch, 50},
	}
	for _, i := range ints {
		v, err := getInt(i.key, i.def)
		if err != nil {
			errs = append(errs, err)
		}
		*i.dst = v
	}

	cfg.RateLimitRPS = 20
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err))
		}
		cfg.RateLimitRPS = rps
	}

	if path := os.Getenv("LENDING_POLICY_FILE"); path != "" {
		lending, err := policy.LoadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("lending policy: %w", err))
		} else {
			cfg.Lending = lending
		}
	}
	if v := os.Getenv("WALLET_CURRENCY"); v != "" {
		cfg.Lending.Currency = strings.ToUpper(v)
	}

	cfg.SeedDemoData = cfg.IsDev() && cfg.DatabaseURL == ""
	if v := os.Getenv("SEED_DEMO_DATA"); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SEED_DEMO_DATA: %w", err))
		}
		cfg.SeedDemoData = seed
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = defaultDevSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = cfg.JWTSecret + "-refresh"
		}
	} else {
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set"))
		}
		if cfg.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL must be set"))
		}
		if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must be set"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDev reports whether in-memory fallbacks are allowed.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// SMTPConfigured reports whether contract notices go out by email.
func (c Config) SMTPConfigured() bool {
	return c.SMTPHost != ""
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration accepts Go durations ("90s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
