package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/ledger"
)

// Handler exposes wallet HTTP endpoints for the authenticated user.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type movementRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type walletResponse struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	CreatedAt        time.Time       `json:"created_at"`
	TransactionCount int             `json:"transaction_count"`
}

type movementResponse struct {
	Transaction ledger.Transaction `json:"transaction"`
	Balance     decimal.Decimal    `json:"balance"`
}

// Get returns the caller's wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(walletResponse{
		ID:               w.ID,
		UserID:           w.UserID,
		Balance:          w.Balance,
		CreatedAt:        w.CreatedAt,
		TransactionCount: len(w.TransactionIDs),
	})
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balance.WalletID,
		"balance":   balance.Amount,
		"timestamp": balance.AsOf,
	})
}

// History lists the caller's transactions, most recent first.
func (h *Handler) History(c *fiber.Ctx) error {
	txns, err := h.service.History(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	if txns == nil {
		txns = []ledger.Transaction{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txns})
}

// Deposit credits the caller's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	m, err := h.service.Deposit(c.UserContext(), userID(c), req.Amount, req.Description)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(movementResponse{Transaction: m.Transaction, Balance: m.Balance})
}

// Withdraw debits the caller's wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	m, err := h.service.Withdraw(c.UserContext(), userID(c), req.Amount, req.Description)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(movementResponse{Transaction: m.Transaction, Balance: m.Balance})
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
