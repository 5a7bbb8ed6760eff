package routes

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrolend/agrolend/internal/ledger"
)

// seedDemoApplications loads a few pending applications so a local
// instance has something to fund.
func seedDemoApplications(ctx context.Context, store ledger.ApplicationStore, logger *slog.Logger) error {
	now := time.Now().UTC()
	demo := []ledger.LoanApplication{
		{ID: "demo-app-maize", FarmerID: "farmer-001", FarmerName: "Amina Bello", FarmerEmail: "amina@example.com",
			AmountRequested: decimal.NewFromInt(50_000), Purpose: "Maize seed and fertiliser", CreditScore: 712, TermMonths: 6},
		{ID: "demo-app-poultry", FarmerID: "farmer-002", FarmerName: "Chidi Okafor", FarmerEmail: "chidi@example.com",
			AmountRequested: decimal.NewFromInt(150_000), Purpose: "Poultry housing", CreditScore: 655, TermMonths: 12},
		{ID: "demo-app-irrigation", FarmerID: "farmer-003", FarmerName: "Grace Mensah", FarmerEmail: "grace@example.com",
			AmountRequested: decimal.NewFromInt(250_000), Purpose: "Drip irrigation kit", CreditScore: 780, TermMonths: 18},
	}
	for _, app := range demo {
		app.Status = ledger.ApplicationPending
		app.CreatedAt = now
		app.UpdatedAt = now
		if err := store.InsertApplication(ctx, app); err != nil && !errors.Is(err, ledger.ErrDuplicate) {
			return err
		}
	}
	logger.Info("demo loan applications seeded", slog.Int("count", len(demo)))
	return nil
}
