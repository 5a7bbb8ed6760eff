package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/saga"
	"github.com/agrolend/agrolend/internal/walletlock"
)

// Handler exposes wallet HTTP endpoints for the authenticated lender.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type topUpRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type withdrawRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	BankName      string          `json:"bank_name"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
}

type walletResponse struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionResponse is the JSON shape of a ledger entry.
type TransactionResponse struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Amount         decimal.Decimal  `json:"amount"`
	Purpose        string           `json:"purpose"`
	Reference      string           `json:"reference"`
	RunningBalance *decimal.Decimal `json:"running_balance"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

type withdrawalResponse struct {
	ID              string          `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	BankName        string          `json:"bank_name"`
	AccountNumber   string          `json:"account_number"`
	AccountName     string          `json:"account_name"`
	Status          string          `json:"status"`
	TransactionID   string          `json:"transaction_id"`
	PayoutReference string          `json:"payout_reference,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Get returns the lender's wallet, creating it on first access.
func (h *Handler) Get(c *fiber.Ctx) error {
	lenderID, err := lender(c)
	if err != nil {
		return err
	}
	w, err := h.service.GetOrCreate(c.UserContext(), lenderID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(walletResponse{
		ID:        w.ID,
		Balance:   w.Balance,
		Currency:  w.Currency,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	})
}

// TopUp credits the lender's wallet.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	lenderID, err := lender(c)
	if err != nil {
		return err
	}
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.TopUp(c.UserContext(), TopUpInput{LenderID: lenderID, Amount: req.Amount, Reference: req.Reference})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"new_balance":    res.NewBalance,
		"transaction_id": res.TransactionID,
		"reference":      res.Reference,
	})
}

// Withdraw records a payout request.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	lenderID, err := lender(c)
	if err != nil {
		return err
	}
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		LenderID: lenderID,
		Amount:   req.Amount,
		Bank: ledger.BankDetails{
			BankName:      req.BankName,
			AccountNumber: req.AccountNumber,
			AccountName:   req.AccountName,
		},
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"new_balance":     res.NewBalance,
		"running_balance": res.RunningBalance,
		"withdrawal_id":   res.WithdrawalID,
		"transaction_id":  res.TransactionID,
		"status":          ledger.WithdrawalPending,
	})
}

// Withdrawal returns a single withdrawal.
func (h *Handler) Withdrawal(c *fiber.Ctx) error {
	lenderID, err := lender(c)
	if err != nil {
		return err
	}
	wd, err := h.service.Withdrawal(c.UserContext(), lenderID, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(withdrawalResponse{
		ID:              wd.ID,
		Amount:          wd.Amount,
		BankName:        wd.Bank.BankName,
		AccountNumber:   wd.Bank.AccountNumber,
		AccountName:     wd.Bank.AccountName,
		Status:          wd.Status,
		TransactionID:   wd.TransactionID,
		PayoutReference: wd.PayoutReference,
		FailureReason:   wd.FailureReason,
		CreatedAt:       wd.CreatedAt,
		UpdatedAt:       wd.UpdatedAt,
	})
}

// Transactions lists recent ledger entries, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	lenderID, err := lender(c)
	if err != nil {
		return err
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return fiber.NewError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}
	txs, err := h.service.Transactions(c.UserContext(), lenderID, limit)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, ToTransactionResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// ToTransactionResponse renders a ledger entry; an absent running balance
// is rendered as null.
func ToTransactionResponse(tx ledger.Transaction) TransactionResponse {
	var running *decimal.Decimal
	if tx.RunningBalance.Valid {
		v := tx.RunningBalance.Decimal
		running = &v
	}
	return TransactionResponse{
		ID:             tx.ID,
		Type:           string(tx.Type),
		Amount:         tx.Amount,
		Purpose:        tx.Purpose,
		Reference:      tx.Reference,
		RunningBalance: running,
		Status:         tx.Status,
		CreatedAt:      tx.CreatedAt,
	}
}

func lender(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return uid, nil
}

func toHTTPError(err error) error {
	var declined *DeclinedError
	switch {
	case errors.As(err, &declined):
		if declined.Reason == ReasonInsufficientFunds {
			return fiber.NewError(http.StatusPaymentRequired, declined.Error())
		}
		return fiber.NewError(http.StatusUnprocessableEntity, declined.Error())
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWithdrawalNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, walletlock.ErrLockTimeout):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, saga.ErrCompensationFailed):
		return fiber.NewError(http.StatusInternalServerError, "internal error, support has been notified")
	case errors.Is(err, saga.ErrAborted):
		return fiber.NewError(http.StatusServiceUnavailable, "operation failed, no changes were made")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
