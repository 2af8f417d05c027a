package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/onramp-pay/onramp_pay/internal/merchant"
)

// RegisterMerchantRoutes wires the merchant catalog endpoints. Listing is
// public; registration needs a bearer token.
func RegisterMerchantRoutes(public, protected fiber.Router, h *merchant.Handler) {
	public.Get("/merchants", h.List)
	protected.Post("/merchants", h.Register)
}
