package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletd/internal/identity"
	"github.com/congo-pay/walletd/internal/wallet"
)

// RegisterIdentityRoutes wires public registration.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/users", h.Register)
}

// RegisterProfileRoute exposes the session user's profile with their wallet.
func RegisterProfileRoute(r fiber.Router, ids *identity.Service, wallets *wallet.Service) {
	r.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		user, err := ids.GetUser(c.UserContext(), uid)
		if err != nil {
			return err
		}
		resp := fiber.Map{
			"user_id":    user.ID,
			"name":       user.Name,
			"role":       user.Role,
			"is_admin":   ids.IsAdmin(user),
			"created_at": user.CreatedAt,
		}
		if bal, err := wallets.Balance(c.UserContext(), uid); err == nil {
			resp["wallet_id"] = bal.WalletID
			resp["balance"] = bal.Amount
		}
		return c.Status(http.StatusOK).JSON(resp)
	})
}
