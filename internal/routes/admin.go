package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletd/internal/admin"
	"github.com/congo-pay/walletd/internal/middleware"
)

// RegisterAdminRoutes wires admin-only views behind the role guard.
func RegisterAdminRoutes(r fiber.Router, h *admin.Handler) {
	group := r.Group("/admin", middleware.RequireAdmin())
	group.Get("/users", h.Users)
	group.Get("/wallets", h.Wallets)
	group.Get("/transactions", h.Transactions)
	group.Get("/audit", h.Audit)
}
