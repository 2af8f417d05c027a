package merchant

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes merchant catalog endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a merchant handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	ReceiverAddress string         `json:"receiver_address"`
	BusinessType    string         `json:"business_type"`
	KYCInfo         map[string]any `json:"kyc_info"`
}

// Register adds a merchant to the whitelist.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	m, err := h.service.Register(c.UserContext(), RegisterInput{
		Name:            req.Name,
		Description:     req.Description,
		ReceiverAddress: req.ReceiverAddress,
		BusinessType:    req.BusinessType,
		KYCInfo:         req.KYCInfo,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateName):
			return fiber.NewError(http.StatusConflict, "merchant name already exists, choose a unique name")
		case errors.Is(err, ErrInvalidAddress):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"success": true, "merchant": m})
}

// List returns the merchant whitelist.
func (h *Handler) List(c *fiber.Ctx) error {
	merchants, err := h.service.List(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if merchants == nil {
		merchants = []Merchant{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"merchants": merchants})
}
