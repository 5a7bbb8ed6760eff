package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/saga"
	"github.com/agrolend/agrolend/internal/walletlock"
)

// Service runs the wallet sagas: top-up, withdrawal and withdrawal refund.
type Service struct {
	repo      Repository
	locks     walletlock.Locker
	logger    *slog.Logger
	currency  string
	scheduler Scheduler
	now       func() time.Time
}

// NewService builds a wallet service instance.
func NewService(repo Repository, locks walletlock.Locker, logger *slog.Logger, currency string) *Service {
	if currency == "" {
		currency = "NGN"
	}
	return &Service{
		repo:     repo,
		locks:    locks,
		logger:   logger,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetScheduler registers the payout simulator. Without one, withdrawals stay
// pending until an operator or the sweep moves them.
func (s *Service) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// GetOrCreate returns the lender's wallet, creating an empty one on first use.
func (s *Service) GetOrCreate(ctx context.Context, lenderID string) (ledger.Wallet, error) {
	w, err := s.repo.WalletByOwner(ctx, lenderID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Wallet{}, err
	}
	now := s.now()
	w = ledger.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   lenderID,
		Balance:   decimal.Zero,
		Currency:  s.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			// Lost a creation race; the other request's wallet wins.
			return s.repo.WalletByOwner(ctx, lenderID)
		}
		return ledger.Wallet{}, err
	}
	s.logger.Info("wallet created", slog.String("wallet_id", w.ID), slog.String("lender_id", lenderID))
	return w, nil
}

// Provision creates the lender's wallet and returns its id.
func (s *Service) Provision(ctx context.Context, lenderID string) (string, error) {
	w, err := s.GetOrCreate(ctx, lenderID)
	return w.ID, err
}

// Transactions lists the most recent ledger entries of a lender, newest first.
func (s *Service) Transactions(ctx context.Context, lenderID string, limit int) ([]ledger.Transaction, error) {
	w, err := s.GetOrCreate(ctx, lenderID)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.Transactions(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, txs[i])
	}
	return out, nil
}

// TopUp credits the wallet. The credit entry is written without a running
// balance; statement.Reconciler.Backfill fills it in later.
func (s *Service) TopUp(ctx context.Context, in TopUpInput) (TopUpResult, error) {
	if !validAmount(in.Amount) {
		return TopUpResult{}, ErrInvalidAmount
	}
	release, err := s.locks.Lock(ctx, walletlock.Key(in.LenderID))
	if err != nil {
		return TopUpResult{}, err
	}
	defer release()

	w, err := s.GetOrCreate(ctx, in.LenderID)
	if err != nil {
		return TopUpResult{}, err
	}

	reference := in.Reference
	if reference == "" {
		reference = "TOPUP-" + uuid.NewString()
	}
	newBalance := w.Balance.Add(in.Amount)
	tx := ledger.Transaction{
		ID:        uuid.NewString(),
		WalletID:  w.ID,
		Type:      ledger.TypeCredit,
		Amount:    in.Amount,
		Purpose:   "Wallet top-up",
		Reference: reference,
		Status:    ledger.TxStatusSuccessful,
		CreatedAt: s.now(),
	}

	sg := saga.New("top_up")
	sg.Ref("wallet_id", w.ID)
	sg.Ref("transaction_id", tx.ID)
	sg.Add(s.balanceStep("raise_balance", w.ID, w.Balance, newBalance))
	sg.Add(saga.Step{
		Name: "insert_credit",
		Do:   func(ctx context.Context) error { return s.repo.InsertTransaction(ctx, tx) },
	})
	if err := sg.Run(ctx); err != nil {
		saga.LogFailure(s.logger, err)
		return TopUpResult{}, err
	}

	s.logger.Info("wallet topped up",
		slog.String("wallet_id", w.ID),
		slog.String("transaction_id", tx.ID),
		slog.String("amount", in.Amount.String()),
	)
	return TopUpResult{NewBalance: newBalance, TransactionID: tx.ID, Reference: reference}, nil
}

// Withdraw debits the wallet and records a pending payout. Declines are
// returned as *DeclinedError before anything is written.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (WithdrawResult, error) {
	if !validAmount(in.Amount) {
		return WithdrawResult{}, ErrInvalidAmount
	}
	if !in.Bank.Complete() {
		return WithdrawResult{}, &DeclinedError{Reason: ReasonMissingBankDetails}
	}

	release, err := s.locks.Lock(ctx, walletlock.Key(in.LenderID))
	if err != nil {
		return WithdrawResult{}, err
	}
	defer release()

	w, err := s.GetOrCreate(ctx, in.LenderID)
	if err != nil {
		return WithdrawResult{}, err
	}
	if w.Balance.LessThan(in.Amount) {
		return WithdrawResult{}, &DeclinedError{Reason: ReasonInsufficientFunds, Required: in.Amount, Current: w.Balance}
	}

	last, hasLast, err := s.repo.LatestTransaction(ctx, w.ID)
	if err != nil {
		return WithdrawResult{}, err
	}
	pos := ledger.Next(w.Balance, ledger.ChainBase(last, hasLast, w.Balance), ledger.Signed(ledger.TypeWithdrawal, in.Amount))

	now := s.now()
	withdrawalID := uuid.NewString()
	tx := ledger.Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Type:           ledger.TypeWithdrawal,
		Amount:         in.Amount,
		Purpose:        fmt.Sprintf("Withdrawal to %s", in.Bank.BankName),
		Reference:      withdrawalID,
		RunningBalance: decimal.NewNullDecimal(pos.Running),
		Status:         ledger.TxStatusSuccessful,
		CreatedAt:      now,
	}
	wd := ledger.Withdrawal{
		ID:            withdrawalID,
		WalletID:      w.ID,
		Amount:        in.Amount,
		Bank:          in.Bank,
		TransactionID: tx.ID,
		Status:        ledger.WithdrawalPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	sg := saga.New("withdraw")
	sg.Ref("wallet_id", w.ID)
	sg.Ref("transaction_id", tx.ID)
	sg.Ref("withdrawal_id", wd.ID)
	sg.Add(s.balanceStep("lower_balance", w.ID, w.Balance, pos.Balance))
	sg.Add(s.insertTxStep("insert_withdrawal_tx", tx))
	sg.Add(saga.Step{
		Name: "insert_withdrawal",
		Do:   func(ctx context.Context) error { return s.repo.InsertWithdrawal(ctx, wd) },
	})
	if err := sg.Run(ctx); err != nil {
		saga.LogFailure(s.logger, err)
		return WithdrawResult{}, err
	}

	s.logger.Info("withdrawal recorded",
		slog.String("wallet_id", w.ID),
		slog.String("withdrawal_id", wd.ID),
		slog.String("amount", in.Amount.String()),
	)
	if s.scheduler != nil {
		s.scheduler.ScheduleWithdrawal(wd.ID)
	}
	return WithdrawResult{
		NewBalance:     pos.Balance,
		RunningBalance: pos.Running,
		WithdrawalID:   wd.ID,
		TransactionID:  tx.ID,
	}, nil
}

// Withdrawal returns a withdrawal owned by the lender.
func (s *Service) Withdrawal(ctx context.Context, lenderID, id string) (ledger.Withdrawal, error) {
	wd, err := s.repo.Withdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Withdrawal{}, ErrWithdrawalNotFound
		}
		return ledger.Withdrawal{}, err
	}
	w, err := s.repo.WalletByOwner(ctx, lenderID)
	if err != nil || w.ID != wd.WalletID {
		return ledger.Withdrawal{}, ErrWithdrawalNotFound
	}
	return wd, nil
}

// MarkProcessing moves a pending withdrawal to processing.
func (s *Service) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, []string{ledger.WithdrawalPending}, ledger.WithdrawalProcessing, ledger.WithdrawalUpdate{})
}

// ReclaimProcessing takes over a withdrawal stuck in processing since before
// staleBefore. Only one caller wins; the rest get ErrInvalidTransition.
func (s *Service) ReclaimProcessing(ctx context.Context, id string, staleBefore time.Time) error {
	err := s.repo.ReclaimWithdrawal(ctx, id, staleBefore, s.now())
	switch {
	case err == nil:
		s.logger.Info("stuck withdrawal reclaimed", slog.String("withdrawal_id", id))
		return nil
	case errors.Is(err, ledger.ErrNotFound):
		return ErrWithdrawalNotFound
	case errors.Is(err, ledger.ErrStateConflict):
		return fmt.Errorf("%w: %s is not a stale processing withdrawal", ErrInvalidTransition, id)
	default:
		return err
	}
}

// MarkSuccessful settles a withdrawal with the payout rail's reference.
func (s *Service) MarkSuccessful(ctx context.Context, id, payoutRef string) error {
	return s.transition(ctx, id,
		[]string{ledger.WithdrawalPending, ledger.WithdrawalProcessing},
		ledger.WithdrawalSuccessful,
		ledger.WithdrawalUpdate{PayoutReference: payoutRef},
	)
}

func (s *Service) transition(ctx context.Context, id string, from []string, to string, update ledger.WithdrawalUpdate) error {
	update.At = s.now()
	err := s.repo.TransitionWithdrawal(ctx, id, from, to, update)
	switch {
	case err == nil:
		s.logger.Info("withdrawal status changed", slog.String("withdrawal_id", id), slog.String("status", to))
		return nil
	case errors.Is(err, ledger.ErrNotFound):
		return ErrWithdrawalNotFound
	case errors.Is(err, ledger.ErrStateConflict):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, id, to)
	default:
		return err
	}
}

// MarkFailed fails a withdrawal that has not settled and refunds the wallet
// with a credit reversal entry.
func (s *Service) MarkFailed(ctx context.Context, id, reason string) error {
	wd, err := s.repo.Withdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrWithdrawalNotFound
		}
		return err
	}
	w, err := s.repo.Wallet(ctx, wd.WalletID)
	if err != nil {
		return err
	}

	release, err := s.locks.Lock(ctx, walletlock.Key(w.OwnerID))
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock; a concurrent hook may have settled it.
	if wd, err = s.repo.Withdrawal(ctx, id); err != nil {
		return err
	}
	if wd.Status != ledger.WithdrawalPending && wd.Status != ledger.WithdrawalProcessing {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, wd.Status)
	}
	if w, err = s.repo.Wallet(ctx, wd.WalletID); err != nil {
		return err
	}
	last, hasLast, err := s.repo.LatestTransaction(ctx, w.ID)
	if err != nil {
		return err
	}
	pos := ledger.Next(w.Balance, ledger.ChainBase(last, hasLast, w.Balance), ledger.Signed(ledger.TypeCredit, wd.Amount))

	now := s.now()
	reversal := ledger.Transaction{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Type:           ledger.TypeCredit,
		Amount:         wd.Amount,
		Purpose:        "Withdrawal reversal",
		Reference:      wd.ID,
		RunningBalance: decimal.NewNullDecimal(pos.Running),
		Status:         ledger.TxStatusSuccessful,
		CreatedAt:      now,
	}

	sg := saga.New("withdrawal_refund")
	sg.Ref("wallet_id", w.ID)
	sg.Ref("withdrawal_id", wd.ID)
	sg.Ref("transaction_id", reversal.ID)
	sg.Add(s.balanceStep("restore_balance", w.ID, w.Balance, pos.Balance))
	sg.Add(s.insertTxStep("insert_reversal", reversal))
	sg.Add(saga.Step{
		Name: "mark_failed",
		Do: func(ctx context.Context) error {
			return s.repo.TransitionWithdrawal(ctx, wd.ID,
				[]string{ledger.WithdrawalPending, ledger.WithdrawalProcessing},
				ledger.WithdrawalFailed,
				ledger.WithdrawalUpdate{FailureReason: reason, At: now},
			)
		},
	})
	if err := sg.Run(ctx); err != nil {
		saga.LogFailure(s.logger, err)
		return err
	}

	s.logger.Warn("withdrawal failed and refunded",
		slog.String("withdrawal_id", wd.ID),
		slog.String("wallet_id", w.ID),
		slog.String("reason", reason),
	)
	return nil
}

// validAmount accepts positive amounts in whole minor units; balances are
// stored with two decimal places.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Exponent() >= -2
}

func (s *Service) balanceStep(name, walletID string, before, after decimal.Decimal) saga.Step {
	return saga.Step{
		Name: name,
		Do:   func(ctx context.Context) error { return s.repo.SetWalletBalance(ctx, walletID, after) },
		Undo: func(ctx context.Context) error { return s.repo.SetWalletBalance(ctx, walletID, before) },
	}
}

func (s *Service) insertTxStep(name string, tx ledger.Transaction) saga.Step {
	return saga.Step{
		Name: name,
		Do:   func(ctx context.Context) error { return s.repo.InsertTransaction(ctx, tx) },
		Undo: func(ctx context.Context) error { return s.repo.DeleteTransaction(ctx, tx.ID) },
	}
}
