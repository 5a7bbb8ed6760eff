package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agrolend/agrolend/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter, jwtmw fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", chain(rateLimiter, h.Login)...)
	group.Post("/refresh", chain(rateLimiter, h.Refresh)...)
	group.Post("/logout", jwtmw, h.Logout)
}
