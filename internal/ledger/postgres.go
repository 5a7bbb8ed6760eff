package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// PostgresStore persists the ledger tables in PostgreSQL. Each method issues
// exactly one statement against the pool; nothing here opens a transaction
// spanning several rows.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func mapReadErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireOne(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateWallet inserts a wallet row; a second wallet for the same owner is ErrDuplicate.
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, balance, locked_balance, currency, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.OwnerID, w.Balance, w.LockedBalance, w.Currency, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return mapWriteErr(err)
}

const walletColumns = `id, owner_id, balance, locked_balance, currency, created_at, updated_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.LockedBalance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, mapReadErr(err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

// WalletByOwner fetches the single wallet owned by a lender.
func (s *PostgresStore) WalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID))
}

// Wallet fetches a wallet by identifier.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

// SetWalletBalance overwrites the cached balance.
func (s *PostgresStore) SetWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = now() WHERE id = $2`, balance, walletID)
	if err != nil {
		return err
	}
	return requireOne(tag)
}

const txColumns = `id, wallet_id, type, amount, purpose, reference, running_balance, status, created_at`

// InsertTransaction appends a ledger entry.
func (s *PostgresStore) InsertTransaction(ctx context.Context, tx Transaction) error {
	_, err := s.db.Exec(ctx, `INSERT INTO transactions (`+txColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.WalletID, string(tx.Type), tx.Amount, tx.Purpose, tx.Reference, tx.RunningBalance, tx.Status, tx.CreatedAt.UTC())
	return mapWriteErr(err)
}

// DeleteTransaction removes an entry written by an aborted saga.
func (s *PostgresStore) DeleteTransaction(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireOne(tag)
}

func scanTx(row pgx.Row) (Transaction, error) {
	var (
		tx  Transaction
		typ string
	)
	if err := row.Scan(&tx.ID, &tx.WalletID, &typ, &tx.Amount, &tx.Purpose, &tx.Reference, &tx.RunningBalance, &tx.Status, &tx.CreatedAt); err != nil {
		return Transaction{}, err
	}
	tx.Type = TxType(typ)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func (s *PostgresStore) queryTxs(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) latest(ctx context.Context, query string, args ...any) (Transaction, bool, error) {
	tx, err := scanTx(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return tx, true, nil
}

// LatestTransaction returns the wallet's most recent entry.
func (s *PostgresStore) LatestTransaction(ctx context.Context, walletID string) (Transaction, bool, error) {
	return s.latest(ctx, `SELECT `+txColumns+` FROM transactions WHERE wallet_id = $1
        ORDER BY created_at DESC, seq DESC LIMIT 1`, walletID)
}

// LatestTransactionBefore returns the last entry created strictly before the instant.
func (s *PostgresStore) LatestTransactionBefore(ctx context.Context, walletID string, before time.Time) (Transaction, bool, error) {
	return s.latest(ctx, `SELECT `+txColumns+` FROM transactions WHERE wallet_id = $1 AND created_at < $2
        ORDER BY created_at DESC, seq DESC LIMIT 1`, walletID, before.UTC())
}

// TransactionsInRange returns entries in the closed interval, oldest first.
func (s *PostgresStore) TransactionsInRange(ctx context.Context, walletID string, from, to time.Time) ([]Transaction, error) {
	return s.queryTxs(ctx, `SELECT `+txColumns+` FROM transactions
        WHERE wallet_id = $1 AND created_at >= $2 AND created_at <= $3
        ORDER BY created_at, seq`, walletID, from.UTC(), to.UTC())
}

// Transactions returns the full chain for a wallet, oldest first.
func (s *PostgresStore) Transactions(ctx context.Context, walletID string) ([]Transaction, error) {
	return s.queryTxs(ctx, `SELECT `+txColumns+` FROM transactions WHERE wallet_id = $1 ORDER BY created_at, seq`, walletID)
}

// TransactionsByReference returns the entries correlated with a reference.
func (s *PostgresStore) TransactionsByReference(ctx context.Context, walletID, reference string) ([]Transaction, error) {
	return s.queryTxs(ctx, `SELECT `+txColumns+` FROM transactions WHERE wallet_id = $1 AND reference = $2
        ORDER BY created_at, seq`, walletID, reference)
}

// SetRunningBalance writes a reconciled running balance onto an entry.
func (s *PostgresStore) SetRunningBalance(ctx context.Context, id string, running decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, `UPDATE transactions SET running_balance = $1 WHERE id = $2`, running, id)
	if err != nil {
		return err
	}
	return requireOne(tag)
}

const withdrawalColumns = `id, wallet_id, amount, bank_name, account_number, account_name, transaction_id,
        status, payout_reference, failure_reason, created_at, updated_at`

// InsertWithdrawal records a withdrawal request.
func (s *PostgresStore) InsertWithdrawal(ctx context.Context, w Withdrawal) error {
	_, err := s.db.Exec(ctx, `INSERT INTO withdrawals (`+withdrawalColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.ID, w.WalletID, w.Amount, w.Bank.BankName, w.Bank.AccountNumber, w.Bank.AccountName, w.TransactionID,
		w.Status, w.PayoutReference, w.FailureReason, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return mapWriteErr(err)
}

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var w Withdrawal
	if err := row.Scan(&w.ID, &w.WalletID, &w.Amount, &w.Bank.BankName, &w.Bank.AccountNumber, &w.Bank.AccountName,
		&w.TransactionID, &w.Status, &w.PayoutReference, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Withdrawal{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

// Withdrawal fetches a withdrawal by identifier.
func (s *PostgresStore) Withdrawal(ctx context.Context, id string) (Withdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	return w, mapReadErr(err)
}

// TransitionWithdrawal performs a compare-and-set on the withdrawal status.
func (s *PostgresStore) TransitionWithdrawal(ctx context.Context, id string, from []string, to string, update WithdrawalUpdate) error {
	at := update.At
	if at.IsZero() {
		at = time.Now()
	}
	tag, err := s.db.Exec(ctx, `UPDATE withdrawals
        SET status = $1,
            payout_reference = COALESCE(NULLIF($2, ''), payout_reference),
            failure_reason = COALESCE(NULLIF($3, ''), failure_reason),
            updated_at = $4
        WHERE id = $5 AND status = ANY($6)`,
		to, update.PayoutReference, update.FailureReason, at.UTC(), id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Withdrawal(ctx, id); err != nil {
		return err
	}
	return ErrStateConflict
}

// ReclaimWithdrawal claims a processing withdrawal that has not moved since
// staleBefore.
func (s *PostgresStore) ReclaimWithdrawal(ctx context.Context, id string, staleBefore, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE withdrawals SET updated_at = $1
        WHERE id = $2 AND status = $3 AND updated_at < $4`,
		at.UTC(), id, WithdrawalProcessing, staleBefore.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Withdrawal(ctx, id); err != nil {
		return err
	}
	return ErrStateConflict
}

// StaleWithdrawals lists withdrawals stuck in the given statuses.
func (s *PostgresStore) StaleWithdrawals(ctx context.Context, statuses []string, before time.Time, limit int) ([]Withdrawal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals
        WHERE status = ANY($1) AND updated_at < $2 ORDER BY updated_at LIMIT $3`, statuses, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Withdrawal, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const contractColumns = `id, application_id, lender_id, farmer_id, amount_disbursed, interest_rate, status, created_at`

// InsertContract records a funded loan contract.
func (s *PostgresStore) InsertContract(ctx context.Context, c LoanContract) error {
	_, err := s.db.Exec(ctx, `INSERT INTO loan_contracts (`+contractColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.ApplicationID, c.LenderID, c.FarmerID, c.AmountDisbursed, c.InterestRate, c.Status, c.CreatedAt.UTC())
	return mapWriteErr(err)
}

// DeleteContract removes a contract written by an aborted saga.
func (s *PostgresStore) DeleteContract(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM loan_contracts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireOne(tag)
}

func scanContract(row pgx.Row) (LoanContract, error) {
	var c LoanContract
	if err := row.Scan(&c.ID, &c.ApplicationID, &c.LenderID, &c.FarmerID, &c.AmountDisbursed, &c.InterestRate, &c.Status, &c.CreatedAt); err != nil {
		return LoanContract{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// Contract fetches a contract by identifier.
func (s *PostgresStore) Contract(ctx context.Context, id string) (LoanContract, error) {
	c, err := scanContract(s.db.QueryRow(ctx, `SELECT `+contractColumns+` FROM loan_contracts WHERE id = $1`, id))
	return c, mapReadErr(err)
}

// ContractsByLender lists a lender's contracts, oldest first.
func (s *PostgresStore) ContractsByLender(ctx context.Context, lenderID string) ([]LoanContract, error) {
	rows, err := s.db.Query(ctx, `SELECT `+contractColumns+` FROM loan_contracts WHERE lender_id = $1 ORDER BY created_at`, lenderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]LoanContract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const applicationColumns = `id, farmer_id, farmer_name, farmer_email, amount_requested, purpose, credit_score,
        term_months, status, COALESCE(lender_id, ''), created_at, updated_at`

// InsertApplication stores an application submitted by the farmer subsystem.
func (s *PostgresStore) InsertApplication(ctx context.Context, app LoanApplication) error {
	_, err := s.db.Exec(ctx, `INSERT INTO loan_applications (id, farmer_id, farmer_name, farmer_email, amount_requested,
        purpose, credit_score, term_months, status, lender_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)`,
		app.ID, app.FarmerID, app.FarmerName, app.FarmerEmail, app.AmountRequested, app.Purpose, app.CreditScore,
		app.TermMonths, app.Status, app.LenderID, app.CreatedAt.UTC(), app.UpdatedAt.UTC())
	return mapWriteErr(err)
}

func scanApplication(row pgx.Row) (LoanApplication, error) {
	var a LoanApplication
	if err := row.Scan(&a.ID, &a.FarmerID, &a.FarmerName, &a.FarmerEmail, &a.AmountRequested, &a.Purpose, &a.CreditScore,
		&a.TermMonths, &a.Status, &a.LenderID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return LoanApplication{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// Application fetches a loan application.
func (s *PostgresStore) Application(ctx context.Context, id string) (LoanApplication, error) {
	a, err := scanApplication(s.db.QueryRow(ctx, `SELECT `+applicationColumns+` FROM loan_applications WHERE id = $1`, id))
	return a, mapReadErr(err)
}

// ApplicationsByStatus lists applications, all of them when status is empty.
func (s *PostgresStore) ApplicationsByStatus(ctx context.Context, status string) ([]LoanApplication, error) {
	rows, err := s.db.Query(ctx, `SELECT `+applicationColumns+` FROM loan_applications
        WHERE $1 = '' OR status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]LoanApplication, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TransitionApplication is a compare-and-set on the application status.
func (s *PostgresStore) TransitionApplication(ctx context.Context, id, from, to, lenderID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE loan_applications SET status = $1, lender_id = $2, updated_at = now()
        WHERE id = $3 AND status = $4`, to, lenderID, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Application(ctx, id); err != nil {
		return fmt.Errorf("transition application %s: %w", id, err)
	}
	return ErrStateConflict
}
