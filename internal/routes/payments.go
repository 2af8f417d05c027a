package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/onramp-pay/onramp_pay/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints. guards run before the
// payment handler, in order.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, guards ...fiber.Handler) {
	r.Post("/payments", append(guards, h.Pay)...)
	r.Get("/payments", h.History)
}
