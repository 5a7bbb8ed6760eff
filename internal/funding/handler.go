package funding

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agrolend/agrolend/internal/ledger"
	"github.com/agrolend/agrolend/internal/saga"
	"github.com/agrolend/agrolend/internal/walletlock"
)

// Handler exposes the lender's loan marketplace endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Approve funds a pending application from the caller's wallet.
func (h *Handler) Approve(c *fiber.Ctx) error {
	lenderID, _ := c.Locals("user_id").(string)
	if lenderID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	decision, err := h.service.ApproveLoan(c.UserContext(), c.Params("id"), lenderID)
	if err != nil {
		switch {
		case errors.Is(err, ErrApplicationNotFound), errors.Is(err, ErrWalletNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, walletlock.ErrLockTimeout):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, saga.ErrCompensationFailed):
			return fiber.NewError(http.StatusInternalServerError, "internal error, support has been notified")
		case errors.Is(err, saga.ErrAborted):
			return fiber.NewError(http.StatusServiceUnavailable, "operation failed, no changes were made")
		default:
			return fiber.NewError(http.StatusInternalServerError, "internal error")
		}
	}

	if decision.Outcome == OutcomeDeclined {
		switch decision.Reason {
		case ReasonInsufficientFunds:
			return fiber.NewError(http.StatusPaymentRequired, fmt.Sprintf("insufficient funds: need %s, have %s",
				decision.RequiredAmount.StringFixed(2), decision.CurrentBalance.StringFixed(2)))
		default:
			return fiber.NewError(http.StatusConflict, "application is no longer pending")
		}
	}

	return c.Status(http.StatusCreated).JSON(ApprovalResponse{
		Outcome:      decision.Outcome,
		ContractID:   decision.ContractID,
		Principal:    decision.Principal,
		Fee:          decision.Fee,
		NewBalance:   decision.NewBalance,
		NoticeQueued: decision.NoticeError == nil,
	})
}

// Applications lists applications; status defaults to pending.
func (h *Handler) Applications(c *fiber.Ctx) error {
	status := c.Query("status", ledger.ApplicationPending)
	if status == "all" {
		status = ""
	}
	apps, err := h.service.Applications(c.UserContext(), status)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ApplicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, ApplicationResponse{
			ID:              app.ID,
			FarmerID:        app.FarmerID,
			FarmerName:      app.FarmerName,
			AmountRequested: app.AmountRequested,
			PlatformFee:     h.service.PlatformFee(app.AmountRequested),
			Purpose:         app.Purpose,
			CreditScore:     app.CreditScore,
			TermMonths:      app.TermMonths,
			Status:          app.Status,
			CreatedAt:       app.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"applications": out})
}

// Contracts lists the caller's funded contracts.
func (h *Handler) Contracts(c *fiber.Ctx) error {
	lenderID, _ := c.Locals("user_id").(string)
	if lenderID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	contracts, err := h.service.Contracts(c.UserContext(), lenderID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ContractResponse, 0, len(contracts))
	for _, ct := range contracts {
		out = append(out, contractResponse(ct))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"contracts": out})
}

// Contract returns one funded contract with its ledger entries.
func (h *Handler) Contract(c *fiber.Ctx) error {
	lenderID, _ := c.Locals("user_id").(string)
	if lenderID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	detail, err := h.service.Contract(c.UserContext(), lenderID, c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrContractNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
	resp := ContractDetailResponse{
		ContractResponse: contractResponse(detail.Contract),
		Entries:          make([]EntryResponse, 0, len(detail.Entries)),
	}
	for _, tx := range detail.Entries {
		resp.Entries = append(resp.Entries, EntryResponse{
			ID:             tx.ID,
			Type:           string(tx.Type),
			Amount:         tx.Amount,
			RunningBalance: tx.RunningBalance,
			Purpose:        tx.Purpose,
			CreatedAt:      tx.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func contractResponse(ct ledger.LoanContract) ContractResponse {
	return ContractResponse{
		ID:              ct.ID,
		ApplicationID:   ct.ApplicationID,
		FarmerID:        ct.FarmerID,
		AmountDisbursed: ct.AmountDisbursed,
		InterestRate:    ct.InterestRate,
		Status:          ct.Status,
		CreatedAt:       ct.CreatedAt,
	}
}
