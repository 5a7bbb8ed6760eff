package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
)

// ErrPayoutRejected marks a payout the bank refused for good, e.g. a closed
// account. Other rail errors are treated as transient.
var ErrPayoutRejected = errors.New("payout rejected by bank")

// PayoutRequest captures what the payout rail needs to push funds to a bank.
type PayoutRequest struct {
	WithdrawalID string
	Amount       decimal.Decimal
	Bank         ledger.BankDetails
}

// PayoutRail represents a connector to an external bank transfer provider.
type PayoutRail interface {
	Payout(ctx context.Context, req PayoutRequest) (reference string, err error)
}

// StaticRail simulates a payout provider that always settles.
type StaticRail struct{}

// Payout approves the transfer with a synthetic reference.
func (StaticRail) Payout(_ context.Context, _ PayoutRequest) (string, error) {
	return "PAYOUT-" + uuid.NewString(), nil
}
