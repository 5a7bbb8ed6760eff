package wallet

import "github.com/agrolend/agrolend/internal/ledger"

// Repository is the slice of the ledger store the wallet flows write to.
// Both ledger.MemoryStore and ledger.PostgresStore satisfy it.
type Repository interface {
	ledger.WalletStore
	ledger.TransactionStore
	ledger.WithdrawalStore
}
