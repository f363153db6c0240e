package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletd/internal/wallet"
)

// RegisterWalletRoutes wires the session user's wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotency fiber.Handler) {
	r.Get("/wallet", h.Get)
	r.Get("/wallet/balance", h.Balance)
	r.Get("/wallet/history", h.History)
	r.Post("/wallet/deposit", withOptional(idempotency, h.Deposit)...)
	r.Post("/wallet/withdraw", withOptional(idempotency, h.Withdraw)...)
}
