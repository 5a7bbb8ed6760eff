// Package jobs runs the asynchronous side of the ledger: withdrawal payouts
// and scheduled sweeps.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/wallet"
)

// Hooks are the withdrawal transitions the simulator drives.
type Hooks interface {
	MarkProcessing(ctx context.Context, id string) error
	ReclaimProcessing(ctx context.Context, id string, staleBefore time.Time) error
	MarkSuccessful(ctx context.Context, id, payoutRef string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Simulator settles withdrawals a fixed delay after they are recorded.
type Simulator struct {
	hooks       Hooks
	withdrawals ledger.WithdrawalStore
	rail        PayoutRail
	delay       time.Duration
	timeout     time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewSimulator builds a simulator. A nil rail settles every payout.
func NewSimulator(hooks Hooks, withdrawals ledger.WithdrawalStore, rail PayoutRail, delay time.Duration, logger *slog.Logger) *Simulator {
	if rail == nil {
		rail = StaticRail{}
	}
	return &Simulator{
		hooks:       hooks,
		withdrawals: withdrawals,
		rail:        rail,
		delay:       delay,
		timeout:     30 * time.Second,
		logger:      logger,
		timers:      make(map[string]*time.Timer),
	}
}

// ScheduleWithdrawal implements wallet.Scheduler. It never blocks.
func (s *Simulator) ScheduleWithdrawal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[id]; ok {
		return
	}
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Process(ctx, id); err != nil {
			s.logger.Error("withdrawal payout failed", slog.String("withdrawal_id", id), slog.Any("error", err))
		}
	})
}

// Process claims a pending withdrawal and pays it out. The pending to
// processing transition is the claim: a caller that loses it returns nil
// without touching the rail.
func (s *Simulator) Process(ctx context.Context, id string) error {
	if err := s.hooks.MarkProcessing(ctx, id); err != nil {
		if errors.Is(err, wallet.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return s.payout(ctx, id)
}

// Redrive retries a withdrawal left in processing since before staleBefore,
// e.g. by a crashed instance or a rail timeout. Only the caller that reclaims
// the row calls the rail.
func (s *Simulator) Redrive(ctx context.Context, id string, staleBefore time.Time) error {
	if err := s.hooks.ReclaimProcessing(ctx, id, staleBefore); err != nil {
		if errors.Is(err, wallet.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return s.payout(ctx, id)
}

func (s *Simulator) payout(ctx context.Context, id string) error {
	wd, err := s.withdrawals.Withdrawal(ctx, id)
	if err != nil {
		return err
	}
	ref, err := s.rail.Payout(ctx, PayoutRequest{WithdrawalID: wd.ID, Amount: wd.Amount, Bank: wd.Bank})
	if err != nil {
		if errors.Is(err, ErrPayoutRejected) {
			return s.hooks.MarkFailed(ctx, id, err.Error())
		}
		return fmt.Errorf("payout %s: %w", id, err)
	}
	return s.hooks.MarkSuccessful(ctx, id, ref)
}

// Pending returns the number of scheduled payouts not yet started.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels scheduled payouts and waits for running ones. Cancelled
// withdrawals stay pending and are picked up by the sweep after restart.
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
