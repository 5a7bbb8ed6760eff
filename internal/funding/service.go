package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/notification"
	"github.com/agrolend/agrolend/internal/policy"
	"github.com/agrolend/agrolend/internal/saga"
	"github.com/agrolend/agrolend/internal/walletlock"
)

var (
	// ErrWalletNotFound is returned when the approving lender has no wallet.
	ErrWalletNotFound = errors.New("lender wallet not found")
	// ErrApplicationNotFound is returned for unknown application ids.
	ErrApplicationNotFound = errors.New("loan application not found")
	// ErrContractNotFound is returned for unknown or foreign contracts.
	ErrContractNotFound = errors.New("loan contract not found")
)

// Outcome of an approval request.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDeclined Outcome = "declined"
)

// Decline reasons.
const (
	ReasonApplicationNotPending = "application_not_pending"
	ReasonInsufficientFunds     = "insufficient_funds"
)

// Decision is the result of ApproveLoan. A declined decision wrote nothing.
type Decision struct {
	Outcome        Outcome
	Reason         string
	ContractID     string
	Principal      decimal.Decimal
	Fee            decimal.Decimal
	NewBalance     decimal.Decimal
	RequiredAmount decimal.Decimal
	CurrentBalance decimal.Decimal
	// NoticeError is set when the contract was created but the contract
	// notice could not be queued.
	NoticeError error
}

// Notices queues contract notices for delivery after the saga commits.
type Notices interface {
	Enqueue(ctx context.Context, notice notification.ContractNotice) error
}

// Directory resolves a lender's contact address.
type Directory interface {
	LenderEmail(ctx context.Context, lenderID string) (string, error)
}

// Service funds loan applications from lender wallets.
type Service struct {
	store     ledger.Store
	locks     walletlock.Locker
	lending   policy.Lending
	notices   Notices
	directory Directory
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds the funding service. notices and directory may be nil.
func NewService(store ledger.Store, locks walletlock.Locker, lending policy.Lending, notices Notices, directory Directory, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("wallet locker is required")
	}
	if err := lending.Validate(); err != nil {
		return nil, fmt.Errorf("lending policy: %w", err)
	}
	return &Service{
		store:     store,
		locks:     locks,
		lending:   lending,
		notices:   notices,
		directory: directory,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// ApproveLoan debits the lender for principal plus platform fee, records
// both ledger entries, creates the contract and approves the application.
// Every write is compensated if a later one fails.
func (s *Service) ApproveLoan(ctx context.Context, applicationID, lenderID string) (Decision, error) {
	release, err := s.locks.Lock(ctx, walletlock.Key(lenderID))
	if err != nil {
		return Decision{}, err
	}
	defer release()

	app, err := s.store.Application(ctx, applicationID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Decision{}, ErrApplicationNotFound
		}
		return Decision{}, err
	}
	if app.Status != ledger.ApplicationPending {
		return Decision{Outcome: OutcomeDeclined, Reason: ReasonApplicationNotPending}, nil
	}

	w, err := s.store.WalletByOwner(ctx, lenderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Decision{}, ErrWalletNotFound
		}
		return Decision{}, err
	}

	principal := app.AmountRequested
	fee := s.lending.Fees.PlatformFee(principal)
	required := principal.Add(fee)
	if w.Balance.LessThan(required) {
		return Decision{
			Outcome:        OutcomeDeclined,
			Reason:         ReasonInsufficientFunds,
			RequiredAmount: required,
			CurrentBalance: w.Balance,
		}, nil
	}

	last, hasLast, err := s.store.LatestTransaction(ctx, w.ID)
	if err != nil {
		return Decision{}, err
	}
	afterFunding := ledger.Next(w.Balance, ledger.ChainBase(last, hasLast, w.Balance), ledger.Signed(ledger.TypeLoanFunding, principal))
	afterFee := ledger.Next(afterFunding.Balance, decimal.NewNullDecimal(afterFunding.Running), ledger.Signed(ledger.TypeFee, fee))

	now := s.now()
	fundingTx := ledger.Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Type:           ledger.TypeLoanFunding,
		Amount:         principal,
		Purpose:        fmt.Sprintf("Loan funding for %s", app.FarmerName),
		Reference:      app.ID,
		RunningBalance: decimal.NewNullDecimal(afterFunding.Running),
		Status:         ledger.TxStatusSuccessful,
		CreatedAt:      now,
	}
	feeTx := ledger.Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Type:           ledger.TypeFee,
		Amount:         fee,
		Purpose:        fmt.Sprintf("Platform fee (%s tier)", s.lending.Fees.TierFor(principal)),
		Reference:      app.ID,
		RunningBalance: decimal.NewNullDecimal(afterFee.Running),
		Status:         ledger.TxStatusSuccessful,
		CreatedAt:      now,
	}
	contract := ledger.LoanContract{
		ID:              uuid.NewString(),
		ApplicationID:   app.ID,
		LenderID:        lenderID,
		FarmerID:        app.FarmerID,
		AmountDisbursed: principal,
		InterestRate:    s.lending.InterestRate,
		Status:          ledger.ContractActive,
		CreatedAt:       now,
	}

	sg := saga.New("approve_loan")
	sg.Ref("wallet_id", w.ID)
	sg.Ref("application_id", app.ID)
	sg.Ref("funding_transaction_id", fundingTx.ID)
	sg.Ref("fee_transaction_id", feeTx.ID)
	sg.Ref("contract_id", contract.ID)
	sg.Add(saga.Step{
		Name: "debit_wallet",
		Do:   func(ctx context.Context) error { return s.store.SetWalletBalance(ctx, w.ID, afterFee.Balance) },
		Undo: func(ctx context.Context) error { return s.store.SetWalletBalance(ctx, w.ID, w.Balance) },
	})
	sg.Add(saga.Step{
		Name: "insert_funding_tx",
		Do:   func(ctx context.Context) error { return s.store.InsertTransaction(ctx, fundingTx) },
		Undo: func(ctx context.Context) error { return s.store.DeleteTransaction(ctx, fundingTx.ID) },
	})
	sg.Add(saga.Step{
		Name: "insert_fee_tx",
		Do:   func(ctx context.Context) error { return s.store.InsertTransaction(ctx, feeTx) },
		Undo: func(ctx context.Context) error { return s.store.DeleteTransaction(ctx, feeTx.ID) },
	})
	sg.Add(saga.Step{
		Name: "create_contract",
		Do:   func(ctx context.Context) error { return s.store.InsertContract(ctx, contract) },
		Undo: func(ctx context.Context) error { return s.store.DeleteContract(ctx, contract.ID) },
	})
	sg.Add(saga.Step{
		Name: "approve_application",
		Do: func(ctx context.Context) error {
			return s.store.TransitionApplication(ctx, app.ID, ledger.ApplicationPending, ledger.ApplicationApproved, lenderID)
		},
	})
	if err := sg.Run(ctx); err != nil {
		saga.LogFailure(s.logger, err)
		return Decision{}, err
	}

	s.logger.Info("loan funded",
		slog.String("application_id", app.ID),
		slog.String("contract_id", contract.ID),
		slog.String("wallet_id", w.ID),
		slog.String("principal", principal.String()),
		slog.String("fee", fee.String()),
	)

	decision := Decision{
		Outcome:    OutcomeAccepted,
		ContractID: contract.ID,
		Principal:  principal,
		Fee:        fee,
		NewBalance: afterFee.Balance,
	}
	decision.NoticeError = s.queueNotice(ctx, app, contract, fee)
	return decision, nil
}

func (s *Service) queueNotice(ctx context.Context, app ledger.LoanApplication, contract ledger.LoanContract, fee decimal.Decimal) error {
	if s.notices == nil {
		return nil
	}
	notice := notification.ContractNotice{
		ContractID:    contract.ID,
		ApplicationID: app.ID,
		LenderID:      contract.LenderID,
		FarmerID:      app.FarmerID,
		FarmerName:    app.FarmerName,
		FarmerEmail:   app.FarmerEmail,
		Principal:     contract.AmountDisbursed.StringFixed(2),
		Fee:           fee.StringFixed(2),
		InterestRate:  contract.InterestRate.String(),
		TermMonths:    app.TermMonths,
		Currency:      s.lending.Currency,
		IssuedAt:      contract.CreatedAt,
	}
	if s.directory != nil {
		email, err := s.directory.LenderEmail(ctx, contract.LenderID)
		if err != nil {
			s.logger.Warn("lender email lookup failed", slog.String("lender_id", contract.LenderID), slog.Any("error", err))
		}
		notice.LenderEmail = email
	}
	// The contract is committed; the notice must not inherit a cancelled request.
	if err := s.notices.Enqueue(context.WithoutCancel(ctx), notice); err != nil {
		s.logger.Error("contract notice not queued",
			slog.String("contract_id", contract.ID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// Applications lists loan applications, optionally filtered by status.
func (s *Service) Applications(ctx context.Context, status string) ([]ledger.LoanApplication, error) {
	return s.store.ApplicationsByStatus(ctx, status)
}

// Contracts lists the contracts a lender has funded.
func (s *Service) Contracts(ctx context.Context, lenderID string) ([]ledger.LoanContract, error) {
	return s.store.ContractsByLender(ctx, lenderID)
}

// ContractDetail is a contract with the ledger entries that funded it.
type ContractDetail struct {
	Contract ledger.LoanContract
	Entries  []ledger.Transaction
}

// Contract returns one of the lender's contracts and its funding and fee
// entries.
func (s *Service) Contract(ctx context.Context, lenderID, id string) (ContractDetail, error) {
	c, err := s.store.Contract(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ContractDetail{}, ErrContractNotFound
		}
		return ContractDetail{}, err
	}
	if c.LenderID != lenderID {
		return ContractDetail{}, ErrContractNotFound
	}
	w, err := s.store.WalletByOwner(ctx, lenderID)
	if err != nil {
		return ContractDetail{}, err
	}
	entries, err := s.store.TransactionsByReference(ctx, w.ID, c.ApplicationID)
	if err != nil {
		return ContractDetail{}, err
	}
	return ContractDetail{Contract: c, Entries: entries}, nil
}

// PlatformFee previews the fee a lender pays to fund principal.
func (s *Service) PlatformFee(principal decimal.Decimal) decimal.Decimal {
	return s.lending.Fees.PlatformFee(principal)
}
