package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/notification"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Runner schedules background sweeps.
type Runner struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewRunner builds a cron runner. Overlapping runs of the same job are skipped.
func NewRunner(logger *slog.Logger) *Runner {
	cl := cronLogger{logger: logger}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: time.Minute,
	}
}

// Add registers fn under a cron spec such as "@every 1m".
func (r *Runner) Add(spec, name string, fn func(ctx context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		started := time.Now()
		if err := fn(ctx); err != nil {
			r.logger.Error("job failed", slog.String("job", name), slog.Any("error", err))
			return
		}
		r.logger.Debug("job finished", slog.String("job", name), slog.Duration("took", time.Since(started)))
	})
	return err
}

// Start runs the scheduler in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs or ctx, whichever is first.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// WithdrawalSweep re-drives withdrawals stuck in pending or processing, e.g.
// after a restart dropped their timers. Each row is claimed before the rail
// is called, so overlapping sweeps and timers pay out at most once.
func WithdrawalSweep(store ledger.WithdrawalStore, sim *Simulator, staleAfter time.Duration, batch int) func(context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-staleAfter)
		stale, err := store.StaleWithdrawals(ctx,
			[]string{ledger.WithdrawalPending, ledger.WithdrawalProcessing}, cutoff, batch)
		if err != nil {
			return err
		}
		for _, wd := range stale {
			if wd.Status == ledger.WithdrawalProcessing {
				err = sim.Redrive(ctx, wd.ID, cutoff)
			} else {
				err = sim.Process(ctx, wd.ID)
			}
			if err != nil {
				sim.logger.Warn("stale withdrawal not settled", slog.String("withdrawal_id", wd.ID), slog.Any("error", err))
			}
		}
		return nil
	}
}

// OutboxDrain delivers queued contract notices.
func OutboxDrain(outbox *notification.Outbox, batch int) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := outbox.Drain(ctx, batch)
		return err
	}
}
