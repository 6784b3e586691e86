package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/portera/portera/internal/config"
	"github.com/portera/portera/internal/middleware"
	"github.com/portera/portera/internal/wallet"
)

// RegisterWalletRoutes wires wallet provisioning, balance and top-up endpoints.
// Administrative zeroing sits behind the operator credential.
func RegisterWalletRoutes(r fiber.Router, cfg config.Config, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId/balances", h.Balances)
	r.Post("/wallets/:walletId/topup", h.TopUp)
	r.Post("/wallets/:walletId/zero", middleware.CronAuth(cfg), h.Zero)
}
