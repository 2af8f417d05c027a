package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/onramp-pay/onramp_pay/internal/failure"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type walletResponse struct {
	OwnerID       string `json:"owner_id"`
	Address       string `json:"address"`
	Mode          string `json:"mode"`
	Balance       string `json:"balance"`
	BalanceWei    string `json:"balance_wei"`
	SpendingLimit string `json:"spending_limit"`
}

// Me returns the authenticated user's account and balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	w, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(failure.StatusCode(err), failure.PublicMessage(err))
	}
	bal, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(failure.StatusCode(err), failure.PublicMessage(err))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet": walletResponse{
			OwnerID:       w.OwnerID,
			Address:       w.Address,
			Mode:          w.Mode,
			Balance:       bal.Amount.String(),
			BalanceWei:    bal.Wei,
			SpendingLimit: bal.SpendingLimit.String(),
		},
		"timestamp": bal.AsOf,
	})
}
