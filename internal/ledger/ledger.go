package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique constraint (wallet owner, transaction id)
	// would be violated by an insert.
	ErrDuplicate = errors.New("duplicate record")

	// ErrStateConflict is returned by conditional status transitions when the
	// row is no longer in the expected state.
	ErrStateConflict = errors.New("state conflict")
)

// TxType classifies a ledger entry.
type TxType string

const (
	TypeCredit        TxType = "credit"
	TypeDebit         TxType = "debit"
	TypeWithdrawal    TxType = "withdrawal"
	TypeLoanFunding   TxType = "loan_funding"
	TypeFee           TxType = "fee"
	TypeRepayment     TxType = "repayment"
	TypeLoanRepayment TxType = "loan_repayment"
)

// IsCredit reports whether entries of this type increase the wallet balance.
// It is the only place the credit/debit split is decided; statements, balance
// arithmetic and reports all go through it.
func (t TxType) IsCredit() bool {
	switch t {
	case TypeCredit, TypeRepayment, TypeLoanRepayment:
		return true
	default:
		return false
	}
}

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeWithdrawal, TypeLoanFunding, TypeFee, TypeRepayment, TypeLoanRepayment:
		return true
	}
	return false
}

const (
	TxStatusSuccessful = "successful"
	TxStatusPending    = "pending"
	TxStatusFailed     = "failed"
)

const (
	WithdrawalPending    = "pending"
	WithdrawalProcessing = "processing"
	WithdrawalSuccessful = "successful"
	WithdrawalFailed     = "failed"
)

const (
	ContractActive    = "active"
	ContractCompleted = "completed"
	ContractDefaulted = "defaulted"
)

const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

// Wallet holds a lender's spendable funds. Balance is a cached projection of
// the transaction chain.
type Wallet struct {
	ID            string
	OwnerID       string
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	Currency      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transaction is an append-only ledger entry. Amount is always a positive
// magnitude; the sign comes from Type.
type Transaction struct {
	ID             string
	WalletID       string
	Type           TxType
	Amount         decimal.Decimal
	Purpose        string
	Reference      string
	RunningBalance decimal.NullDecimal
	Status         string
	CreatedAt      time.Time
}

// BankDetails is the payout destination of a withdrawal.
type BankDetails struct {
	BankName      string
	AccountNumber string
	AccountName   string
}

// Complete reports whether every bank field is present.
func (b BankDetails) Complete() bool {
	return b.BankName != "" && b.AccountNumber != "" && b.AccountName != ""
}

// Withdrawal tracks a payout request through its asynchronous lifecycle.
type Withdrawal struct {
	ID              string
	WalletID        string
	Amount          decimal.Decimal
	Bank            BankDetails
	TransactionID   string
	Status          string
	PayoutReference string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LoanContract is created when a lender funds an application.
type LoanContract struct {
	ID              string
	ApplicationID   string
	LenderID        string
	FarmerID        string
	AmountDisbursed decimal.Decimal
	InterestRate    decimal.Decimal
	Status          string
	CreatedAt       time.Time
}

// LoanApplication is owned by the farmer-facing subsystem. The ledger only
// ever moves it from pending to approved.
type LoanApplication struct {
	ID              string
	FarmerID        string
	FarmerName      string
	FarmerEmail     string
	AmountRequested decimal.Decimal
	Purpose         string
	CreditScore     float64
	TermMonths      int
	Status          string
	LenderID        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WalletStore persists wallets. Every method is a single durable statement.
type WalletStore interface {
	CreateWallet(ctx context.Context, w Wallet) error
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	Wallet(ctx context.Context, id string) (Wallet, error)
	SetWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal) error
}

// TransactionStore persists ledger entries.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	// LatestTransaction returns the most recent entry for the wallet.
	// ok is false when the wallet has no entries.
	LatestTransaction(ctx context.Context, walletID string) (tx Transaction, ok bool, err error)
	// LatestTransactionBefore returns the most recent entry created strictly
	// before the given instant.
	LatestTransactionBefore(ctx context.Context, walletID string, before time.Time) (tx Transaction, ok bool, err error)
	// TransactionsInRange returns entries created in [from, to], oldest first.
	TransactionsInRange(ctx context.Context, walletID string, from, to time.Time) ([]Transaction, error)
	// Transactions returns every entry for the wallet, oldest first.
	Transactions(ctx context.Context, walletID string) ([]Transaction, error)
	// TransactionsByReference returns the entries correlated with a
	// reference (application or withdrawal id), oldest first.
	TransactionsByReference(ctx context.Context, walletID, reference string) ([]Transaction, error)
	SetRunningBalance(ctx context.Context, id string, running decimal.Decimal) error
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	InsertWithdrawal(ctx context.Context, w Withdrawal) error
	Withdrawal(ctx context.Context, id string) (Withdrawal, error)
	// TransitionWithdrawal moves the withdrawal to status `to` only if its
	// current status is one of `from`; otherwise ErrStateConflict.
	TransitionWithdrawal(ctx context.Context, id string, from []string, to string, update WithdrawalUpdate) error
	// ReclaimWithdrawal bumps updated_at to at on a processing withdrawal
	// last touched before staleBefore; otherwise ErrStateConflict. The
	// caller that wins owns the next payout attempt.
	ReclaimWithdrawal(ctx context.Context, id string, staleBefore, at time.Time) error
	// StaleWithdrawals lists withdrawals in the given statuses not updated since before.
	StaleWithdrawals(ctx context.Context, statuses []string, before time.Time, limit int) ([]Withdrawal, error)
}

// WithdrawalUpdate carries optional fields written alongside a transition.
type WithdrawalUpdate struct {
	PayoutReference string
	FailureReason   string
	At              time.Time
}

// ContractStore persists loan contracts.
type ContractStore interface {
	InsertContract(ctx context.Context, c LoanContract) error
	DeleteContract(ctx context.Context, id string) error
	Contract(ctx context.Context, id string) (LoanContract, error)
	ContractsByLender(ctx context.Context, lenderID string) ([]LoanContract, error)
}

// ApplicationStore reads loan applications and performs the single status
// transition the ledger owns.
type ApplicationStore interface {
	InsertApplication(ctx context.Context, app LoanApplication) error
	Application(ctx context.Context, id string) (LoanApplication, error)
	ApplicationsByStatus(ctx context.Context, status string) ([]LoanApplication, error)
	// TransitionApplication sets status `to` (and the approving lender) only
	// if the current status equals `from`; otherwise ErrStateConflict.
	TransitionApplication(ctx context.Context, id, from, to, lenderID string) error
}

// Store is the full ledger store. It offers per-statement durability only;
// multi-row consistency is the caller's job.
type Store interface {
	WalletStore
	TransactionStore
	WithdrawalStore
	ContractStore
	ApplicationStore
}
