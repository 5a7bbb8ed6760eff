// Package statement produces account statements from the running-balance
// chain and reconciles that chain against the cached wallet balance.
package statement

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/walletlock"
)

var (
	// ErrWalletNotFound is returned for lenders without a wallet.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInvalidRange is returned when start is after end.
	ErrInvalidRange = errors.New("start date must not be after end date")
)

// Store is what the reconciler reads and, for backfills, writes.
type Store interface {
	ledger.WalletStore
	ledger.TransactionStore
}

// Statement summarises a wallet over a closed date range.
type Statement struct {
	WalletID       string
	Currency       string
	Start          time.Time
	End            time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	TotalCredit    decimal.Decimal
	TotalDebit     decimal.Decimal
	Lines          []ledger.Transaction
}

// Reconciler builds statements and repairs the running-balance chain.
type Reconciler struct {
	store  Store
	locks  walletlock.Locker
	logger *slog.Logger
}

// NewReconciler wires a reconciler.
func NewReconciler(store Store, locks walletlock.Locker, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, locks: locks, logger: logger}
}

// Statement returns the lender's statement for [start, end].
func (r *Reconciler) Statement(ctx context.Context, lenderID string, start, end time.Time) (Statement, error) {
	if start.After(end) {
		return Statement{}, ErrInvalidRange
	}
	w, err := r.store.WalletByOwner(ctx, lenderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Statement{}, ErrWalletNotFound
		}
		return Statement{}, err
	}

	opening := decimal.Zero
	prior, ok, err := r.store.LatestTransactionBefore(ctx, w.ID, start)
	if err != nil {
		return Statement{}, err
	}
	if ok && prior.RunningBalance.Valid {
		opening = prior.RunningBalance.Decimal
	}

	lines, err := r.store.TransactionsInRange(ctx, w.ID, start, end)
	if err != nil {
		return Statement{}, err
	}

	credit, debit := Totals(lines)
	closing := opening
	if n := len(lines); n > 0 {
		if last := lines[n-1]; last.RunningBalance.Valid {
			closing = last.RunningBalance.Decimal
		} else {
			closing = opening.Add(credit).Sub(debit)
		}
	}

	return Statement{
		WalletID:       w.ID,
		Currency:       w.Currency,
		Start:          start,
		End:            end,
		OpeningBalance: opening,
		ClosingBalance: closing,
		TotalCredit:    credit,
		TotalDebit:     debit,
		Lines:          lines,
	}, nil
}

// Totals sums credits and debits, classifying with ledger.TxType.IsCredit.
func Totals(lines []ledger.Transaction) (credit, debit decimal.Decimal) {
	credit, debit = decimal.Zero, decimal.Zero
	for _, tx := range lines {
		if tx.Type.IsCredit() {
			credit = credit.Add(tx.Amount.Abs())
		} else {
			debit = debit.Add(tx.Amount.Abs())
		}
	}
	return credit, debit
}

var csvHeader = []string{"date", "type", "purpose", "reference", "credit", "debit", "running_balance"}

// WriteCSV renders the statement as CSV with opening and closing rows.
func (s Statement) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		csvHeader,
		{s.Start.Format(time.DateOnly), "opening_balance", "", "", "", "", s.OpeningBalance.StringFixed(2)},
	}
	for _, tx := range s.Lines {
		credit, debit := "", ""
		if tx.Type.IsCredit() {
			credit = tx.Amount.StringFixed(2)
		} else {
			debit = tx.Amount.StringFixed(2)
		}
		running := ""
		if tx.RunningBalance.Valid {
			running = tx.RunningBalance.Decimal.StringFixed(2)
		}
		rows = append(rows, []string{
			tx.CreatedAt.UTC().Format(time.RFC3339),
			string(tx.Type),
			tx.Purpose,
			tx.Reference,
			credit,
			debit,
			running,
		})
	}
	rows = append(rows, []string{
		s.End.Format(time.DateOnly), "closing_balance", "", "",
		s.TotalCredit.StringFixed(2), s.TotalDebit.StringFixed(2), s.ClosingBalance.StringFixed(2),
	})
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write statement csv: %w", err)
	}
	return nil
}
