package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/logging"
	"github.com/agrolend/agrolend/internal/notification"
	"github.com/agrolend/agrolend/internal/wallet"
	"github.com/agrolend/agrolend/internal/walletlock"
)

type rejectingRail struct{}

func (rejectingRail) Payout(context.Context, PayoutRequest) (string, error) {
	return "", ErrPayoutRejected
}

type flakyRail struct{ calls int }

func (r *flakyRail) Payout(context.Context, PayoutRequest) (string, error) {
	r.calls++
	if r.calls == 1 {
		return "", errors.New("gateway timeout")
	}
	return "PAYOUT-OK", nil
}

type countingRail struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (r *countingRail) Payout(context.Context, PayoutRequest) (string, error) {
	r.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if r.fail.Load() {
		return "", errors.New("gateway timeout")
	}
	return "PAYOUT-COUNTED", nil
}

func setup(t *testing.T, rail PayoutRail, delay time.Duration) (*wallet.Service, *Simulator, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewInMemory()
	svc := wallet.NewService(store, walletlock.NewLocal(), logging.Discard(), "NGN")
	sim := NewSimulator(svc, store, rail, delay, logging.Discard())
	svc.SetScheduler(sim)
	t.Cleanup(sim.Stop)

	w, err := svc.GetOrCreate(context.Background(), "lender-1")
	require.NoError(t, err)
	ledger.SeedBalance(store, w.ID, 10_000)
	return svc, sim, store
}

func withdraw(t *testing.T, svc *wallet.Service) string {
	t.Helper()
	res, err := svc.Withdraw(context.Background(), wallet.WithdrawInput{
		LenderID: "lender-1",
		Amount:   decimal.NewFromInt(1_000),
		Bank:     ledger.BankDetails{BankName: "Access", AccountNumber: "0099887766", AccountName: "Ada Obi"},
	})
	require.NoError(t, err)
	return res.WithdrawalID
}

func TestSimulatorSettlesAfterDelay(t *testing.T) {
	svc, _, store := setup(t, nil, 10*time.Millisecond)
	id := withdraw(t, svc)

	require.Eventually(t, func() bool {
		wd, err := store.Withdrawal(context.Background(), id)
		return err == nil && wd.Status == ledger.WithdrawalSuccessful
	}, 2*time.Second, 10*time.Millisecond)

	wd, _ := store.Withdrawal(context.Background(), id)
	assert.Contains(t, wd.PayoutReference, "PAYOUT-")
}

func TestSimulatorRejectedPayoutRefunds(t *testing.T) {
	svc, sim, store := setup(t, rejectingRail{}, time.Hour)
	ctx := context.Background()
	id := withdraw(t, svc)
	assert.Equal(t, 1, sim.Pending())

	require.NoError(t, sim.Process(ctx, id))

	wd, _ := store.Withdrawal(ctx, id)
	assert.Equal(t, ledger.WithdrawalFailed, wd.Status)
	w, _ := store.WalletByOwner(ctx, "lender-1")
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(10_000)))
}

func TestSweepRedrivesStuckWithdrawals(t *testing.T) {
	rail := &flakyRail{}
	svc, sim, store := setup(t, rail, time.Hour)
	ctx := context.Background()
	id := withdraw(t, svc)

	// First attempt leaves it processing.
	require.Error(t, sim.Process(ctx, id))
	wd, _ := store.Withdrawal(ctx, id)
	assert.Equal(t, ledger.WithdrawalProcessing, wd.Status)

	sweep := WithdrawalSweep(store, sim, -time.Second, 10)
	require.NoError(t, sweep(ctx))

	wd, _ = store.Withdrawal(ctx, id)
	assert.Equal(t, ledger.WithdrawalSuccessful, wd.Status)
	assert.Equal(t, "PAYOUT-OK", wd.PayoutReference)

	// Settled withdrawals are left alone.
	require.NoError(t, sim.Process(ctx, id))
	assert.Equal(t, 2, rail.calls)
}

func TestConcurrentProcessPaysOutOnce(t *testing.T) {
	rail := &countingRail{}
	svc, sim, store := setup(t, rail, time.Hour)
	ctx := context.Background()
	id := withdraw(t, svc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sim.Process(ctx, id))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), rail.calls.Load())
	wd, _ := store.Withdrawal(ctx, id)
	assert.Equal(t, ledger.WithdrawalSuccessful, wd.Status)
	w, _ := store.WalletByOwner(ctx, "lender-1")
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(9_000)))
}

func TestOverlappingSweepsRedriveOnce(t *testing.T) {
	rail := &countingRail{}
	rail.fail.Store(true)
	svc, sim, store := setup(t, rail, time.Hour)
	ctx := context.Background()
	id := withdraw(t, svc)

	require.Error(t, sim.Process(ctx, id))
	rail.fail.Store(false)
	time.Sleep(30 * time.Millisecond)

	sweep := WithdrawalSweep(store, sim, 20*time.Millisecond, 10)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sweep(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), rail.calls.Load(), "one failed attempt plus one redrive")
	wd, _ := store.Withdrawal(ctx, id)
	assert.Equal(t, ledger.WithdrawalSuccessful, wd.Status)
}

func TestSweepLeavesFreshProcessingRowsAlone(t *testing.T) {
	rail := &countingRail{}
	rail.fail.Store(true)
	svc, sim, store := setup(t, rail, time.Hour)
	ctx := context.Background()
	id := withdraw(t, svc)
	require.Error(t, sim.Process(ctx, id))

	sweep := WithdrawalSweep(store, sim, time.Hour, 10)
	require.NoError(t, sweep(ctx))
	assert.Equal(t, int32(1), rail.calls.Load())
}

func TestStopCancelsScheduledPayouts(t *testing.T) {
	svc, sim, store := setup(t, nil, time.Hour)
	id := withdraw(t, svc)

	sim.Stop()
	assert.Zero(t, sim.Pending())
	sim.ScheduleWithdrawal("ignored-after-stop")
	assert.Zero(t, sim.Pending())

	wd, _ := store.Withdrawal(context.Background(), id)
	assert.Equal(t, ledger.WithdrawalPending, wd.Status)
}

func TestRunnerRunsOutboxDrain(t *testing.T) {
	queue := notification.NewMemoryQueue()
	outbox := notification.NewOutbox(queue, notification.NewLoggerNotifier(logging.Discard()), logging.Discard(), 3)
	require.NoError(t, outbox.Enqueue(context.Background(), notification.ContractNotice{ContractID: "c-1", LenderEmail: "l@example.com"}))

	r := NewRunner(logging.Discard())
	require.NoError(t, r.Add("@every 1s", "outbox", OutboxDrain(outbox, 10)))
	assert.Error(t, r.Add("not a spec", "broken", OutboxDrain(outbox, 10)))

	r.Start()
	defer r.Stop(context.Background())

	require.Eventually(t, func() bool {
		pending, _ := queue.Len()
		return pending == 0
	}, 3*time.Second, 50*time.Millisecond)
}
