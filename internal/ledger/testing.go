package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets a wallet balance on the in-memory
// store without writing a ledger entry, the way legacy wallets were funded
// outside the transaction log.
func SeedBalance(s Store, walletID string, amount int64) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.wallets[walletID]
		w.Balance = decimal.NewFromInt(amount)
		mem.wallets[walletID] = w
	}
}
