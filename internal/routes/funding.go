package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agrolend/agrolend/internal/funding"
)

// RegisterFundingRoutes wires the loan marketplace endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, idem fiber.Handler) {
	r.Get("/loan-applications", h.Applications)
	r.Post("/loan-applications/:id/approve", chain(idem, h.Approve)...)
	r.Get("/contracts", h.Contracts)
	r.Get("/contracts/:id", h.Contract)
}
