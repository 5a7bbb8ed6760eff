package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agrolend/agrolend/internal/identity"
)

// RegisterIdentityRoutes wires lender registration and profile endpoints.
// Registration auto-provisions an empty wallet.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler, jwtmw fiber.Handler) {
	r.Post("/identity/register", h.Register)
	r.Get("/me", jwtmw, h.Me)
}
