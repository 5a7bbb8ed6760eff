package statement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/walletlock"
)

// Drift is an entry whose recorded running balance disagrees with the value
// implied by the cached wallet balance.
type Drift struct {
	TransactionID string
	Recorded      decimal.Decimal
	Expected      decimal.Decimal
}

// BackfillReport describes the state of a wallet's running-balance chain.
type BackfillReport struct {
	WalletID string
	Balance  decimal.Decimal
	// ImpliedOpening is the balance the wallet held before its first entry.
	ImpliedOpening decimal.Decimal
	Checked        int
	Missing        []string
	Drifted        []Drift
	Filled         int
}

// Consistent reports whether every entry carries the expected running balance.
func (r BackfillReport) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Drifted) == 0
}

// Backfill walks the chain backwards from the cached wallet balance and
// computes the running balance every entry should carry. Entries without one
// are listed as missing and, when apply is set, filled in. Entries whose
// recorded value differs are only reported.
func (r *Reconciler) Backfill(ctx context.Context, lenderID string, apply bool) (BackfillReport, error) {
	release, err := r.locks.Lock(ctx, walletlock.Key(lenderID))
	if err != nil {
		return BackfillReport{}, err
	}
	defer release()

	w, err := r.store.WalletByOwner(ctx, lenderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return BackfillReport{}, ErrWalletNotFound
		}
		return BackfillReport{}, err
	}
	txs, err := r.store.Transactions(ctx, w.ID)
	if err != nil {
		return BackfillReport{}, err
	}

	expected := make([]decimal.Decimal, len(txs))
	after := w.Balance
	for i := len(txs) - 1; i >= 0; i-- {
		expected[i] = after
		after = after.Sub(ledger.Signed(txs[i].Type, txs[i].Amount))
	}

	report := BackfillReport{
		WalletID:       w.ID,
		Balance:        w.Balance,
		ImpliedOpening: after,
		Checked:        len(txs),
	}
	for i, tx := range txs {
		if !tx.RunningBalance.Valid {
			report.Missing = append(report.Missing, tx.ID)
			if apply {
				if err := r.store.SetRunningBalance(ctx, tx.ID, expected[i]); err != nil {
					return report, err
				}
				report.Filled++
			}
			continue
		}
		if !tx.RunningBalance.Decimal.Equal(expected[i]) {
			report.Drifted = append(report.Drifted, Drift{
				TransactionID: tx.ID,
				Recorded:      tx.RunningBalance.Decimal,
				Expected:      expected[i],
			})
		}
	}

	level := slog.LevelInfo
	if len(report.Drifted) > 0 {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "running balance reconciliation",
		slog.String("wallet_id", w.ID),
		slog.Int("checked", report.Checked),
		slog.Int("missing", len(report.Missing)),
		slog.Int("drifted", len(report.Drifted)),
		slog.Int("filled", report.Filled),
		slog.Bool("apply", apply),
	)
	return report, nil
}
