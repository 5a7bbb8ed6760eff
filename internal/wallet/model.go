package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
)

var (
	// ErrWithdrawalNotFound is returned for unknown or foreign withdrawals.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrInvalidAmount rejects zero, negative and sub-cent amounts.
	ErrInvalidAmount = errors.New("amount must be positive with at most two decimal places")
	// ErrInvalidTransition is returned when a withdrawal hook fires out of order.
	ErrInvalidTransition = errors.New("withdrawal is not in a state that allows this transition")
)

// Decline reasons. A declined request wrote nothing.
const (
	ReasonMissingBankDetails = "missing_bank_details"
	ReasonInsufficientFunds  = "insufficient_funds"
)

// DeclinedError is a business refusal, as opposed to an infrastructure failure.
type DeclinedError struct {
	Reason   string
	Required decimal.Decimal
	Current  decimal.Decimal
}

func (e *DeclinedError) Error() string {
	switch e.Reason {
	case ReasonInsufficientFunds:
		return fmt.Sprintf("insufficient funds: need %s, have %s", e.Required.StringFixed(2), e.Current.StringFixed(2))
	case ReasonMissingBankDetails:
		return "bank name, account number and account name are required"
	default:
		return "request declined: " + e.Reason
	}
}

// TopUpInput credits a lender's wallet from an external payment.
type TopUpInput struct {
	LenderID  string
	Amount    decimal.Decimal
	Reference string
}

// TopUpResult is returned after a successful top-up.
type TopUpResult struct {
	NewBalance    decimal.Decimal
	TransactionID string
	Reference     string
}

// WithdrawInput requests a payout to a bank account.
type WithdrawInput struct {
	LenderID string
	Amount   decimal.Decimal
	Bank     ledger.BankDetails
}

// WithdrawResult is returned once the withdrawal has been recorded. The
// payout itself completes asynchronously.
type WithdrawResult struct {
	NewBalance     decimal.Decimal
	RunningBalance decimal.Decimal
	WithdrawalID   string
	TransactionID  string
}

// Scheduler hands a recorded withdrawal to the payout simulator.
type Scheduler interface {
	ScheduleWithdrawal(withdrawalID string)
}
