package escrow

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the release trigger endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs the escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Trigger runs one release batch on demand. Authorization happens in the
// route middleware; reaching this handler means the caller is trusted.
func (h *Handler) Trigger(c *fiber.Ctx) error {
	result, err := h.service.Run(c.UserContext())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"error": "release run already in progress",
			})
		}
		// The run could not even start; zero orders were processed.
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error":   "release run failed",
			"message": err.Error(),
		})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"results":   result,
	})
}
