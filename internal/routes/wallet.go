package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agrolend/agrolend/internal/statement"
	"github.com/agrolend/agrolend/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet, withdrawal and statement endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, statements *statement.Handler, idem fiber.Handler) {
	g := r.Group("/wallet")
	g.Get("", h.Get)
	g.Get("/transactions", h.Transactions)
	g.Post("/top-up", chain(idem, h.TopUp)...)
	g.Post("/withdrawals", chain(idem, h.Withdraw)...)
	g.Get("/withdrawals/:id", h.Withdrawal)
	g.Get("/statement", statements.Get)
	g.Post("/reconcile", statements.Reconcile)
}
