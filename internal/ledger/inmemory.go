package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Operation names accepted by MemoryStore.FailOn.
const (
	OpCreateWallet          = "create_wallet"
	OpSetWalletBalance      = "set_wallet_balance"
	OpInsertTransaction     = "insert_transaction"
	OpDeleteTransaction     = "delete_transaction"
	OpSetRunningBalance     = "set_running_balance"
	OpInsertWithdrawal      = "insert_withdrawal"
	OpTransitionWithdrawal  = "transition_withdrawal"
	OpInsertContract        = "insert_contract"
	OpDeleteContract        = "delete_contract"
	OpTransitionApplication = "transition_application"
)

type storedTx struct {
	tx  Transaction
	seq int64
}

// MemoryStore is a concurrency-safe in-memory Store used in development and
// tests. Faults can be injected per operation with FailOn.
type MemoryStore struct {
	mu           sync.RWMutex
	seq          int64
	wallets      map[string]Wallet
	owners       map[string]string
	transactions map[string]storedTx
	withdrawals  map[string]Withdrawal
	contracts    map[string]LoanContract
	applications map[string]LoanApplication
	faults       map[string][]fault
}

type fault struct {
	err   error
	match func(any) bool
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]Wallet),
		owners:       make(map[string]string),
		transactions: make(map[string]storedTx),
		withdrawals:  make(map[string]Withdrawal),
		contracts:    make(map[string]LoanContract),
		applications: make(map[string]LoanApplication),
		faults:       make(map[string][]fault),
	}
}

// FailOn makes the next call of op fail with err. match, when non-nil,
// restricts the fault to calls whose argument satisfies it (the Transaction
// for OpInsertTransaction, the id string for deletes, and so on).
func (s *MemoryStore) FailOn(op string, err error, match func(any) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], fault{err: err, match: match})
}

// injected must be called with s.mu held.
func (s *MemoryStore) injected(op string, arg any) error {
	queue := s.faults[op]
	for i, f := range queue {
		if f.match == nil || f.match(arg) {
			s.faults[op] = append(queue[:i:i], queue[i+1:]...)
			return f.err
		}
	}
	return nil
}

func (s *MemoryStore) CreateWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpCreateWallet, w); err != nil {
		return err
	}
	if _, exists := s.owners[w.OwnerID]; exists {
		return ErrDuplicate
	}
	if _, exists := s.wallets[w.ID]; exists {
		return ErrDuplicate
	}
	s.wallets[w.ID] = w
	s.owners[w.OwnerID] = w.ID
	return nil
}

func (s *MemoryStore) WalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[ownerID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return s.wallets[id], nil
}

func (s *MemoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) SetWalletBalance(_ context.Context, walletID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpSetWalletBalance, balance); err != nil {
		return err
	}
	w, ok := s.wallets[walletID]
	if !ok {
		return ErrNotFound
	}
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	s.wallets[walletID] = w
	return nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpInsertTransaction, tx); err != nil {
		return err
	}
	if _, exists := s.transactions[tx.ID]; exists {
		return ErrDuplicate
	}
	s.seq++
	s.transactions[tx.ID] = storedTx{tx: tx, seq: s.seq}
	return nil
}

func (s *MemoryStore) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpDeleteTransaction, id); err != nil {
		return err
	}
	if _, ok := s.transactions[id]; !ok {
		return ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

// ordered must be called with s.mu held.
func (s *MemoryStore) ordered(walletID string, keep func(Transaction) bool) []Transaction {
	rows := make([]storedTx, 0)
	for _, st := range s.transactions {
		if st.tx.WalletID != walletID || !keep(st.tx) {
			continue
		}
		rows = append(rows, st)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].tx.CreatedAt.Equal(rows[j].tx.CreatedAt) {
			return rows[i].tx.CreatedAt.Before(rows[j].tx.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]Transaction, len(rows))
	for i, st := range rows {
		out[i] = st.tx
	}
	return out
}

func (s *MemoryStore) LatestTransaction(_ context.Context, walletID string) (Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.ordered(walletID, func(Transaction) bool { return true })
	if len(txs) == 0 {
		return Transaction{}, false, nil
	}
	return txs[len(txs)-1], true, nil
}

func (s *MemoryStore) LatestTransactionBefore(_ context.Context, walletID string, before time.Time) (Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.ordered(walletID, func(tx Transaction) bool { return tx.CreatedAt.Before(before) })
	if len(txs) == 0 {
		return Transaction{}, false, nil
	}
	return txs[len(txs)-1], true, nil
}

func (s *MemoryStore) TransactionsInRange(_ context.Context, walletID string, from, to time.Time) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordered(walletID, func(tx Transaction) bool {
		return !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to)
	}), nil
}

func (s *MemoryStore) Transactions(_ context.Context, walletID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordered(walletID, func(Transaction) bool { return true }), nil
}

func (s *MemoryStore) TransactionsByReference(_ context.Context, walletID, reference string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordered(walletID, func(tx Transaction) bool { return tx.Reference == reference }), nil
}

func (s *MemoryStore) SetRunningBalance(_ context.Context, id string, running decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpSetRunningBalance, id); err != nil {
		return err
	}
	st, ok := s.transactions[id]
	if !ok {
		return ErrNotFound
	}
	st.tx.RunningBalance = decimal.NewNullDecimal(running)
	s.transactions[id] = st
	return nil
}

func (s *MemoryStore) InsertWithdrawal(_ context.Context, w Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpInsertWithdrawal, w); err != nil {
		return err
	}
	if _, exists := s.withdrawals[w.ID]; exists {
		return ErrDuplicate
	}
	s.withdrawals[w.ID] = w
	return nil
}

func (s *MemoryStore) Withdrawal(_ context.Context, id string) (Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) TransitionWithdrawal(_ context.Context, id string, from []string, to string, update WithdrawalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpTransitionWithdrawal, id); err != nil {
		return err
	}
	w, ok := s.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	if !contains(from, w.Status) {
		return ErrStateConflict
	}
	w.Status = to
	if update.PayoutReference != "" {
		w.PayoutReference = update.PayoutReference
	}
	if update.FailureReason != "" {
		w.FailureReason = update.FailureReason
	}
	w.UpdatedAt = update.At
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now().UTC()
	}
	s.withdrawals[id] = w
	return nil
}

func (s *MemoryStore) ReclaimWithdrawal(_ context.Context, id string, staleBefore, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpTransitionWithdrawal, id); err != nil {
		return err
	}
	w, ok := s.withdrawals[id]
	if !ok {
		return ErrNotFound
	}
	if w.Status != WithdrawalProcessing || !w.UpdatedAt.Before(staleBefore) {
		return ErrStateConflict
	}
	w.UpdatedAt = at
	s.withdrawals[id] = w
	return nil
}

func (s *MemoryStore) StaleWithdrawals(_ context.Context, statuses []string, before time.Time, limit int) ([]Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Withdrawal, 0)
	for _, w := range s.withdrawals {
		if contains(statuses, w.Status) && w.UpdatedAt.Before(before) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertContract(_ context.Context, c LoanContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpInsertContract, c); err != nil {
		return err
	}
	if _, exists := s.contracts[c.ID]; exists {
		return ErrDuplicate
	}
	s.contracts[c.ID] = c
	return nil
}

func (s *MemoryStore) DeleteContract(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpDeleteContract, id); err != nil {
		return err
	}
	if _, ok := s.contracts[id]; !ok {
		return ErrNotFound
	}
	delete(s.contracts, id)
	return nil
}

func (s *MemoryStore) Contract(_ context.Context, id string) (LoanContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return LoanContract{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ContractsByLender(_ context.Context, lenderID string) ([]LoanContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LoanContract, 0)
	for _, c := range s.contracts {
		if c.LenderID == lenderID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) InsertApplication(_ context.Context, app LoanApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.applications[app.ID]; exists {
		return ErrDuplicate
	}
	s.applications[app.ID] = app
	return nil
}

func (s *MemoryStore) Application(_ context.Context, id string) (LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.applications[id]
	if !ok {
		return LoanApplication{}, ErrNotFound
	}
	return app, nil
}

func (s *MemoryStore) ApplicationsByStatus(_ context.Context, status string) ([]LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LoanApplication, 0)
	for _, app := range s.applications {
		if status == "" || app.Status == status {
			out = append(out, app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TransitionApplication(_ context.Context, id, from, to, lenderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpTransitionApplication, id); err != nil {
		return err
	}
	app, ok := s.applications[id]
	if !ok {
		return ErrNotFound
	}
	if app.Status != from {
		return ErrStateConflict
	}
	app.Status = to
	app.LenderID = lenderID
	app.UpdatedAt = time.Now().UTC()
	s.applications[id] = app
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
