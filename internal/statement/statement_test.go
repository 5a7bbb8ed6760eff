package statement

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/logging"
	"github.com/agrolend/agrolend/internal/walletlock"
)

var day = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func running(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(amt(v)) }

func setup(t *testing.T, balance int64, txs ...ledger.Transaction) (*Reconciler, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewInMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateWallet(ctx, ledger.Wallet{ID: "w-1", OwnerID: "lender-1", Currency: "NGN"}))
	ledger.SeedBalance(store, "w-1", balance)
	for i, tx := range txs {
		if tx.ID == "" {
			tx.ID = "tx-" + string(rune('a'+i))
		}
		tx.WalletID = "w-1"
		require.NoError(t, store.InsertTransaction(ctx, tx))
	}
	return NewReconciler(store, walletlock.NewLocal(), logging.Discard()), store
}

func TestStatementTotalsAndBalances(t *testing.T) {
	r, _ := setup(t, 0,
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(5_000), RunningBalance: running(5_000), CreatedAt: day.Add(-48 * time.Hour)},
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(500), RunningBalance: running(5_500), CreatedAt: day.Add(time.Hour)},
		ledger.Transaction{Type: ledger.TypeDebit, Amount: amt(200), RunningBalance: running(5_300), CreatedAt: day.Add(2 * time.Hour)},
		ledger.Transaction{Type: ledger.TypeLoanFunding, Amount: amt(1_000), RunningBalance: running(4_300), CreatedAt: day.Add(3 * time.Hour)},
	)

	st, err := r.Statement(context.Background(), "lender-1", day, day.Add(24*time.Hour-time.Nanosecond))
	require.NoError(t, err)
	assert.True(t, st.TotalCredit.Equal(amt(500)))
	assert.True(t, st.TotalDebit.Equal(amt(1_200)))
	assert.True(t, st.OpeningBalance.Equal(amt(5_000)))
	assert.True(t, st.ClosingBalance.Equal(amt(4_300)))
	assert.Len(t, st.Lines, 3)
}

func TestStatementEmptyRangeClosesAtOpening(t *testing.T) {
	r, _ := setup(t, 0,
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(700), RunningBalance: running(700), CreatedAt: day.Add(-time.Hour)},
	)
	st, err := r.Statement(context.Background(), "lender-1", day, day.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, st.Lines)
	assert.True(t, st.OpeningBalance.Equal(amt(700)))
	assert.True(t, st.ClosingBalance.Equal(amt(700)))
}

func TestStatementWithoutHistoryOpensAtZero(t *testing.T) {
	r, _ := setup(t, 0,
		ledger.Transaction{Type: ledger.TypeRepayment, Amount: amt(300), RunningBalance: running(300), CreatedAt: day.Add(time.Hour)},
	)
	st, err := r.Statement(context.Background(), "lender-1", day, day.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, st.OpeningBalance.IsZero())
	assert.True(t, st.TotalCredit.Equal(amt(300)))
	assert.True(t, st.ClosingBalance.Equal(amt(300)))
}

func TestStatementAbsentRunningBalances(t *testing.T) {
	r, _ := setup(t, 0,
		// Opening entry without a running balance counts as zero.
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(900), CreatedAt: day.Add(-time.Hour)},
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(1_000), RunningBalance: running(1_000), CreatedAt: day.Add(time.Hour)},
		// Last in-range entry without a running balance: closing is derived.
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(250), CreatedAt: day.Add(2 * time.Hour)},
	)
	st, err := r.Statement(context.Background(), "lender-1", day, day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, st.OpeningBalance.IsZero())
	assert.True(t, st.ClosingBalance.Equal(amt(1_250)))
}

func TestStatementRejectsBadInput(t *testing.T) {
	r, _ := setup(t, 0)
	_, err := r.Statement(context.Background(), "lender-1", day, day.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = r.Statement(context.Background(), "nobody", day, day)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWriteCSV(t *testing.T) {
	st := Statement{
		Start:          day,
		End:            day.Add(24*time.Hour - time.Nanosecond),
		OpeningBalance: amt(100),
		ClosingBalance: amt(400),
		TotalCredit:    amt(500),
		TotalDebit:     amt(200),
		Lines: []ledger.Transaction{
			{Type: ledger.TypeCredit, Amount: amt(500), Purpose: "Wallet top-up", Reference: "TOPUP-1", CreatedAt: day.Add(time.Hour)},
			{Type: ledger.TypeFee, Amount: amt(200), Purpose: "Platform fee, small", Reference: "app-1", RunningBalance: running(400), CreatedAt: day.Add(2 * time.Hour)},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, st.WriteCSV(&buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"2024-04-10", "opening_balance", "", "", "", "", "100.00"}, rows[1])
	assert.Equal(t, "500.00", rows[2][4])
	assert.Equal(t, "", rows[2][6])
	assert.Equal(t, "Platform fee, small", rows[3][2])
	assert.Equal(t, "200.00", rows[3][5])
	assert.Equal(t, []string{"2024-04-10", "closing_balance", "", "", "500.00", "200.00", "400.00"}, rows[4])
}

func TestBackfillFillsGapsAndReportsDrift(t *testing.T) {
	r, store := setup(t, 1_500,
		// Top-up written without a running balance.
		ledger.Transaction{ID: "topup", Type: ledger.TypeCredit, Amount: amt(2_000), CreatedAt: day},
		// Withdrawal computed against the absent value, so it recorded -500.
		ledger.Transaction{ID: "wd", Type: ledger.TypeWithdrawal, Amount: amt(500), RunningBalance: running(-500), CreatedAt: day.Add(time.Hour)},
	)
	ctx := context.Background()

	report, err := r.Backfill(ctx, "lender-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []string{"topup"}, report.Missing)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, "wd", report.Drifted[0].TransactionID)
	assert.True(t, report.Drifted[0].Expected.Equal(amt(1_500)))
	assert.True(t, report.ImpliedOpening.IsZero())
	assert.Zero(t, report.Filled)
	assert.False(t, report.Consistent())

	txs, _ := store.Transactions(ctx, "w-1")
	assert.False(t, txs[0].RunningBalance.Valid, "dry run must not write")

	report, err = r.Backfill(ctx, "lender-1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Filled)
	txs, _ = store.Transactions(ctx, "w-1")
	assert.True(t, txs[0].RunningBalance.Decimal.Equal(amt(2_000)))
	assert.True(t, txs[1].RunningBalance.Decimal.Equal(amt(-500)), "drifted values are reported, not rewritten")
}

func TestBackfillConsistentChain(t *testing.T) {
	r, _ := setup(t, 800,
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(1_000), RunningBalance: running(1_000), CreatedAt: day},
		ledger.Transaction{Type: ledger.TypeFee, Amount: amt(200), RunningBalance: running(800), CreatedAt: day.Add(time.Minute)},
	)
	report, err := r.Backfill(context.Background(), "lender-1", true)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Zero(t, report.Filled)
}

func TestHandlerStatementJSONAndCSV(t *testing.T) {
	r, _ := setup(t, 0,
		ledger.Transaction{Type: ledger.TypeCredit, Amount: amt(500), RunningBalance: running(500), CreatedAt: day.Add(23 * time.Hour)},
	)
	h := NewHandler(r)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "lender-1")
		return c.Next()
	})
	app.Get("/statement", h.Get)
	app.Post("/reconcile", h.Reconcile)

	req := httptest.NewRequest(http.MethodGet, "/statement?start=2024-04-10&end=2024-04-10", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"closing_balance":"500"`)

	req = httptest.NewRequest(http.MethodGet, "/statement?start=2024-04-10&end=2024-04-10&format=csv", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))

	req = httptest.NewRequest(http.MethodGet, "/statement?start=10-04-2024", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/reconcile?apply=true", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
