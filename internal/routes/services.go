package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agrolend/agrolend/internal/auth"
	"github.com/agrolend/agrolend/internal/config"
	"github.com/agrolend/agrolend/internal/funding"
	"github.com/agrolend/agrolend/internal/identity"
	"github.com/agrolend/agrolend/internal/jobs"
	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/notification"
	"github.com/agrolend/agrolend/internal/statement"
	"github.com/agrolend/agrolend/internal/wallet"
	"github.com/agrolend/agrolend/internal/walletlock"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services holds the wired domain services and background workers.
type Services struct {
	Store        ledger.Store
	IdentityRepo identity.Repository
	Identity     *identity.Service
	Auth         *auth.Service
	Wallets      *wallet.Service
	Funding      *funding.Service
	Statements   *statement.Reconciler
	Outbox       *notification.Outbox
	Simulator    *jobs.Simulator
	Runner       *jobs.Runner
}

// Build wires every service. Postgres and Redis back the stores when
// configured; otherwise in-memory stores, process-local locks and an
// in-memory outbox are used (development only).
func Build(ctx context.Context, d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	s := &Services{}

	if d.DB != nil {
		s.Store = ledger.NewPostgresStore(d.DB)
		s.IdentityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		s.Store = ledger.NewInMemory()
		s.IdentityRepo = identity.NewMemoryRepository()
		d.Logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var (
		locks walletlock.Locker
		queue notification.Queue
	)
	if d.Cache != nil {
		locks = walletlock.NewRedis(d.Cache, d.Cfg.LockTTL, d.Cfg.LockWait)
		queue = notification.NewRedisQueue(d.Cache)
	} else {
		locks = walletlock.NewLocal()
		queue = notification.NewMemoryQueue()
	}

	var notifier notification.Notifier
	if d.Cfg.SMTPConfigured() {
		notifier = notification.NewEmailNotifier(notification.SMTPConfig{
			Host:     d.Cfg.SMTPHost,
			Port:     d.Cfg.SMTPPort,
			Username: d.Cfg.SMTPUsername,
			Password: d.Cfg.SMTPPassword,
			Sender:   d.Cfg.SMTPSender,
		}, d.Logger)
	} else {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	s.Outbox = notification.NewOutbox(queue, notifier, d.Logger, d.Cfg.OutboxMaxAttempts)

	s.Identity = identity.NewService(s.IdentityRepo, d.Logger)
	s.Auth = auth.NewService(auth.Settings{
		AccessSecret:    d.Cfg.JWTSecret,
		RefreshSecret:   d.Cfg.RefreshSecret,
		AccessTokenTTL:  d.Cfg.AccessTokenTTL,
		RefreshTokenTTL: d.Cfg.RefreshTokenTTL,
	}, s.IdentityRepo)

	s.Wallets = wallet.NewService(s.Store, locks, d.Logger, d.Cfg.Lending.Currency)
	s.Simulator = jobs.NewSimulator(s.Wallets, s.Store, jobs.StaticRail{}, d.Cfg.WithdrawalDelay, d.Logger)
	s.Wallets.SetScheduler(s.Simulator)

	fundingSvc, err := funding.NewService(s.Store, locks, d.Cfg.Lending, s.Outbox, s.Identity, d.Logger)
	if err != nil {
		return nil, err
	}
	s.Funding = fundingSvc
	s.Statements = statement.NewReconciler(s.Store, locks, d.Logger)

	s.Runner = jobs.NewRunner(d.Logger)
	if err := s.Runner.Add(d.Cfg.WithdrawalSweepSpec, "withdrawal_sweep",
		jobs.WithdrawalSweep(s.Store, s.Simulator, d.Cfg.WithdrawalStaleAfter, 100)); err != nil {
		return nil, fmt.Errorf("schedule withdrawal sweep: %w", err)
	}
	if err := s.Runner.Add(d.Cfg.OutboxDrainSpec, "outbox_drain", jobs.OutboxDrain(s.Outbox, d.Cfg.OutboxBatch)); err != nil {
		return nil, fmt.Errorf("schedule outbox drain: %w", err)
	}

	if d.Cfg.SeedDemoData {
		if err := seedDemoApplications(ctx, s.Store, d.Logger); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	return s, nil
}
