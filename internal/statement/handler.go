package statement

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/wallet"
	"github.com/agrolend/agrolend/internal/walletlock"
)

// Handler exposes statements and reconciliation over HTTP.
type Handler struct {
	reconciler *Reconciler
	now        func() time.Time
}

// NewHandler builds a statement handler.
func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler, now: func() time.Time { return time.Now().UTC() }}
}

type statementResponse struct {
	WalletID       string                       `json:"wallet_id"`
	Currency       string                       `json:"currency"`
	Start          string                       `json:"start"`
	End            string                       `json:"end"`
	OpeningBalance decimal.Decimal              `json:"opening_balance"`
	ClosingBalance decimal.Decimal              `json:"closing_balance"`
	TotalCredit    decimal.Decimal              `json:"total_credit"`
	TotalDebit     decimal.Decimal              `json:"total_debit"`
	Transactions   []wallet.TransactionResponse `json:"transactions"`
}

// Get returns the statement for ?start=YYYY-MM-DD&end=YYYY-MM-DD. Both days
// are inclusive. format=csv returns a CSV attachment.
func (h *Handler) Get(c *fiber.Ctx) error {
	lenderID, _ := c.Locals("user_id").(string)
	if lenderID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	start, end, err := h.parseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	st, err := h.reconciler.Statement(c.UserContext(), lenderID, start, end)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRange):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrWalletNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, "internal error")
		}
	}

	if c.Query("format") == "csv" {
		var buf bytes.Buffer
		if err := st.WriteCSV(&buf); err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="statement-`+start.Format(time.DateOnly)+`.csv"`)
		return c.Status(http.StatusOK).Send(buf.Bytes())
	}

	lines := make([]wallet.TransactionResponse, 0, len(st.Lines))
	for _, tx := range st.Lines {
		lines = append(lines, wallet.ToTransactionResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(statementResponse{
		WalletID:       st.WalletID,
		Currency:       st.Currency,
		Start:          start.Format(time.DateOnly),
		End:            end.Format(time.DateOnly),
		OpeningBalance: st.OpeningBalance,
		ClosingBalance: st.ClosingBalance,
		TotalCredit:    st.TotalCredit,
		TotalDebit:     st.TotalDebit,
		Transactions:   lines,
	})
}

// Reconcile reports running-balance drift; ?apply=true fills missing values.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	lenderID, _ := c.Locals("user_id").(string)
	if lenderID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	report, err := h.reconciler.Backfill(c.UserContext(), lenderID, c.QueryBool("apply", false))
	if err != nil {
		switch {
		case errors.Is(err, ErrWalletNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, walletlock.ErrLockTimeout):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, "internal error")
		}
	}
	drifted := make([]fiber.Map, 0, len(report.Drifted))
	for _, d := range report.Drifted {
		drifted = append(drifted, fiber.Map{
			"transaction_id": d.TransactionID,
			"recorded":       d.Recorded,
			"expected":       d.Expected,
		})
	}
	missing := report.Missing
	if missing == nil {
		missing = []string{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":       report.WalletID,
		"balance":         report.Balance,
		"implied_opening": report.ImpliedOpening,
		"checked":         report.Checked,
		"missing":         missing,
		"drifted":         drifted,
		"filled":          report.Filled,
		"consistent":      report.Consistent(),
	})
}

// parseRange defaults to the current month up to today. The end day is
// expanded to its last instant.
func (h *Handler) parseRange(rawStart, rawEnd string) (time.Time, time.Time, error) {
	now := h.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	endDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if rawStart != "" {
		t, err := time.Parse(time.DateOnly, rawStart)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("start must be YYYY-MM-DD")
		}
		start = t
	}
	if rawEnd != "" {
		t, err := time.Parse(time.DateOnly, rawEnd)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("end must be YYYY-MM-DD")
		}
		endDay = t
	}
	return start, endDay.Add(24*time.Hour - time.Nanosecond), nil
}
