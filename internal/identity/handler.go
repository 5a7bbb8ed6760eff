package identity

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Provisioner creates the lender's wallet at registration.
type Provisioner interface {
	Provision(ctx context.Context, lenderID string) (walletID string, err error)
}

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	wallets Provisioner
}

// NewHandler constructs an identity HTTP handler. wallets may be nil.
func NewHandler(service *Service, wallets Provisioner) *Handler {
	return &Handler{service: service, wallets: wallets}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type userResponse struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	WalletID    string     `json:"wallet_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func toUserResponse(u User) userResponse {
	return userResponse{UserID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt, LastLoginAt: u.LastLoginAt}
}

// Register handles lender onboarding and provisions an empty wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), Credentials{Email: req.Email, Password: req.Password, Name: req.Name})
	if errors.Is(err, ErrUserExists) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	resp := toUserResponse(user)
	if h.wallets != nil {
		walletID, err := h.wallets.Provision(c.UserContext(), user.ID)
		if err != nil {
			// The wallet is created lazily on first use anyway.
			h.service.logger.Warn("wallet provisioning failed", "user_id", user.ID, "error", err)
		}
		resp.WalletID = walletID
	}
	return c.Status(http.StatusCreated).JSON(resp)
}

// Me returns the authenticated lender.
func (h *Handler) Me(c *fiber.Ctx) error {
	id, _ := c.Locals("user_id").(string)
	if id == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	user, err := h.service.User(c.UserContext(), id)
	if errors.Is(err, ErrUserNotFound) {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(toUserResponse(user))
}
