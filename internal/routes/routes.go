package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/time/rate"

	"github.com/agrolend/agrolend/internal/auth"
	"github.com/agrolend/agrolend/internal/funding"
	"github.com/agrolend/agrolend/internal/identity"
	"github.com/agrolend/agrolend/internal/middleware"
	"github.com/agrolend/agrolend/internal/statement"
	"github.com/agrolend/agrolend/internal/wallet"
)

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDev() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	limiter := middleware.NewKeyedLimiter(rate.Limit(d.Cfg.RateLimitRPS), d.Cfg.RateLimitBurst, 10*time.Minute)
	api.Use(middleware.RateLimit(limiter))
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("request_id").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(s.Auth)

	// Public routes
	RegisterIdentityRoutes(api, identity.NewHandler(s.Identity, s.Wallets), jwtmw)
	RegisterAuthRoutes(api, auth.NewHandler(s.Identity, s.Auth), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute), jwtmw)

	// Protected routes
	protected := api.Group("", jwtmw)
	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterWalletRoutes(protected, wallet.NewHandler(s.Wallets), statement.NewHandler(s.Statements), idem)
	RegisterFundingRoutes(protected, funding.NewHandler(s.Funding), idem)
}

// chain prepends mw to h when mw is set.
func chain(mw fiber.Handler, h fiber.Handler) []fiber.Handler {
	if mw == nil {
		return []fiber.Handler{h}
	}
	return []fiber.Handler{mw, h}
}
