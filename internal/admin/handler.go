package admin

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/identity"
	"github.com/congo-pay/walletd/internal/ledger"
)

// Handler exposes admin-only endpoints. Routes must be guarded by the admin
// middleware.
type Handler struct {
	service *Service
}

// NewHandler constructs an admin handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type userView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Role      identity.Role   `json:"role"`
	CreatedAt time.Time       `json:"created_at"`
	WalletID  string          `json:"wallet_id,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

type discrepancyView struct {
	WalletID string          `json:"wallet_id"`
	Balance  decimal.Decimal `json:"balance"`
	Expected decimal.Decimal `json:"expected"`
}

// Users lists all users with balances.
func (h *Handler) Users(c *fiber.Ctx) error {
	summaries, err := h.service.Users(c.UserContext())
	if err != nil {
		return err
	}
	views := make([]userView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, userView{
			ID:        s.User.ID,
			Name:      s.User.Name,
			Role:      s.User.Role,
			CreatedAt: s.User.CreatedAt,
			WalletID:  s.WalletID,
			Balance:   s.Balance,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"users": views})
}

// Wallets lists all wallets.
func (h *Handler) Wallets(c *fiber.Ctx) error {
	wallets, err := h.service.Wallets(c.UserContext())
	if err != nil {
		return err
	}
	if wallets == nil {
		wallets = []ledger.Wallet{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": wallets})
}

// Transactions lists all transactions, most recent first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	txns, err := h.service.Transactions(c.UserContext())
	if err != nil {
		return err
	}
	if txns == nil {
		txns = []ledger.Transaction{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txns})
}

// Audit runs the balance audit.
func (h *Handler) Audit(c *fiber.Ctx) error {
	found, err := h.service.Audit(c.UserContext())
	if err != nil {
		return err
	}
	views := make([]discrepancyView, 0, len(found))
	for _, d := range found {
		views = append(views, discrepancyView{WalletID: d.WalletID, Balance: d.Balance, Expected: d.Expected})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"consistent": len(views) == 0, "discrepancies": views})
}
