package identity

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/onramp-pay/onramp_pay/internal/auth"
	"github.com/onramp-pay/onramp_pay/internal/failure"
	"github.com/onramp-pay/onramp_pay/internal/keys"
)

// maxCaptureBytes bounds uploaded fingerprint images.
const maxCaptureBytes = 8 << 20

// Handler exposes enrollment endpoints.
type Handler struct {
	service *Service
	tokens  *auth.Service
}

// NewHandler constructs an enrollment HTTP handler.
func NewHandler(service *Service, tokens *auth.Service) *Handler {
	return &Handler{service: service, tokens: tokens}
}

type credentialRequest struct {
	UserID       string      `json:"user_id"`
	CredentialID string      `json:"credential_id"`
	Secret       keys.Secret `json:"secret"`
}

type enrollResponse struct {
	UserID      string `json:"user_id"`
	Mode        Mode   `json:"mode"`
	Address     string `json:"address"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// EnrollBiometric handles multipart enrollment with a fingerprint image.
func (h *Handler) EnrollBiometric(c *fiber.Ctx) error {
	capture, err := ReadCapture(c, "fingerprint")
	if err != nil {
		return err
	}
	rec, err := h.service.EnrollBiometric(c.UserContext(), c.FormValue("user_id"), capture)
	if err != nil {
		return enrollError(err)
	}
	return h.respond(c, http.StatusCreated, rec)
}

// EnrollCredential handles deterministic-secret enrollment.
func (h *Handler) EnrollCredential(c *fiber.Ctx) error {
	var req credentialRequest
	defer func() { req.Secret.Wipe() }()
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.service.EnrollCredential(c.UserContext(), req.UserID, strings.TrimSpace(req.CredentialID), req.Secret)
	if err != nil {
		return enrollError(err)
	}
	return h.respond(c, http.StatusCreated, rec)
}

// ReenrollBiometric replaces the caller's record. The user comes from the
// bearer token, never from the body.
func (h *Handler) ReenrollBiometric(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	capture, err := ReadCapture(c, "fingerprint")
	if err != nil {
		return err
	}
	rec, err := h.service.ReenrollBiometric(c.UserContext(), userID, capture)
	if err != nil {
		return enrollError(err)
	}
	return h.respond(c, http.StatusOK, rec)
}

func (h *Handler) respond(c *fiber.Ctx, status int, rec Record) error {
	resp := enrollResponse{UserID: rec.UserID, Mode: rec.Mode, Address: rec.Address.Hex()}
	if h.tokens != nil {
		pair, err := h.tokens.Issue(rec.UserID, string(rec.Mode))
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		resp.AccessToken = pair.AccessToken
		resp.ExpiresIn = pair.ExpiresIn
	}
	return c.Status(status).JSON(resp)
}

func enrollError(err error) error {
	if errors.Is(err, ErrMissingUserID) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return fiber.NewError(failure.StatusCode(err), failure.PublicMessage(err))
}

// ReadCapture loads an uploaded image from the multipart field.
func ReadCapture(c *fiber.Ctx, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, field+" file is required")
	}
	if fh.Size > maxCaptureBytes {
		return nil, fiber.NewError(http.StatusRequestEntityTooLarge, field+" file is too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxCaptureBytes))
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return data, nil
}
