package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/portera/portera/internal/config"
	"github.com/portera/portera/internal/escrow"
	"github.com/portera/portera/internal/middleware"
)

// RegisterEscrowRoutes wires the release trigger endpoint behind cron auth.
// It sits outside /api/v1: only the external scheduler beacon or an operator
// holding the shared secret may call it.
func RegisterEscrowRoutes(app *fiber.App, cfg config.Config, h *escrow.Handler) {
	app.Post("/internal/escrow/release", middleware.CronAuth(cfg), h.Trigger)
}
