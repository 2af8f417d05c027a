package payments

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/onramp-pay/onramp_pay/internal/failure"
	"github.com/onramp-pay/onramp_pay/internal/identity"
	"github.com/onramp-pay/onramp_pay/internal/keys"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type payRequest struct {
	ReceiverAddress string      `json:"receiver_address" form:"receiver_address"`
	Amount          string      `json:"amount" form:"amount"`
	Secret          keys.Secret `json:"secret" form:"-"`
}

type payResponse struct {
	Status       string `json:"status"`
	TxHash       string `json:"tx_hash,omitempty"`
	Receiver     string `json:"receiver_address,omitempty"`
	Amount       string `json:"amount,omitempty"`
	MerchantName string `json:"merchant_name,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
	Stage        string `json:"stage,omitempty"`
}

type historyEntry struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Receiver     string    `json:"receiver_address"`
	MerchantName string    `json:"merchant_name,omitempty"`
	Amount       string    `json:"amount"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Pay runs a payment for the authenticated user. A multipart body carries a
// fingerprint file; a JSON body carries a base64 authenticator secret.
func (h *Handler) Pay(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}

	var req payRequest
	defer func() { req.Secret.Wipe() }()
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(payResponse{
			Status:  "error",
			Reason:  string(failure.InvalidAmount),
			Message: "amount must be a decimal number",
		})
	}

	proof := Proof{Secret: req.Secret}
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		capture, err := identity.ReadCapture(c, "fingerprint")
		if err != nil {
			return err
		}
		proof.Capture = capture
	}

	out, err := h.service.Pay(c.UserContext(), Request{
		UserID:   uid,
		Receiver: req.ReceiverAddress,
		Amount:   amount,
		Proof:    proof,
	})
	if err != nil {
		return c.Status(failure.StatusCode(err)).JSON(payResponse{
			Status:  "error",
			Reason:  string(out.Reason),
			Message: out.Message,
			Stage:   out.Stage.String(),
		})
	}

	return c.Status(http.StatusCreated).JSON(payResponse{
		Status:       "success",
		TxHash:       out.Record.TxHash,
		Receiver:     out.Record.ReceiverAddress,
		Amount:       out.Record.Amount.String(),
		MerchantName: out.Record.MerchantName,
	})
}

// History lists the authenticated user's recent payments.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	entries, err := h.service.History(c.UserContext(), uid, c.QueryInt("limit", 0))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:           e.ID,
			Status:       e.Status,
			TxHash:       e.TxHash,
			Receiver:     e.Receiver,
			MerchantName: e.MerchantName,
			Amount:       e.Amount.String(),
			Reason:       e.Reason,
			CreatedAt:    e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"payments": out})
}
