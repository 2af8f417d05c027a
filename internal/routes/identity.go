package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/onramp-pay/onramp_pay/internal/identity"
)

// RegisterEnrollmentRoutes wires enrollment endpoints. Re-enrollment needs a
// bearer token; first enrollment issues one.
func RegisterEnrollmentRoutes(public, protected fiber.Router, h *identity.Handler) {
	public.Post("/enroll/biometric", h.EnrollBiometric)
	public.Post("/enroll/credential", h.EnrollCredential)
	protected.Post("/enroll/reenroll/biometric", h.ReenrollBiometric)
}
