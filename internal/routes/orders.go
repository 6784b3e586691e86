package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/portera/portera/internal/order"
)

// RegisterOrderRoutes wires order creation and the escrow hold endpoint.
func RegisterOrderRoutes(r fiber.Router, h *order.Handler) {
	r.Post("/orders", h.Create)
	r.Get("/orders/:orderId", h.Get)
	r.Post("/orders/:orderId/hold", h.Hold)
}
