package order

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/portera/portera/internal/ledger"
)

// Handler exposes order HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	RequestID      string          `json:"request_id"`
	BuyerID        string          `json:"buyer_id"`
	TravelerID     string          `json:"traveler_id"`
	TravelerAmount decimal.Decimal `json:"traveler_amount"`
	Currency       string          `json:"currency"`
	ReleaseAt      time.Time       `json:"release_at"`
}

type orderResponse struct {
	ID             string          `json:"id"`
	RequestID      string          `json:"request_id"`
	BuyerID        string          `json:"buyer_id"`
	TravelerID     string          `json:"traveler_id"`
	TravelerAmount decimal.Decimal `json:"traveler_amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	ReleaseAt      time.Time       `json:"release_at"`
}

func toResponse(o Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		RequestID:      o.RequestID,
		BuyerID:        o.BuyerID,
		TravelerID:     o.TravelerID,
		TravelerAmount: o.TravelerAmount,
		Currency:       o.Currency,
		Status:         string(o.Status),
		ReleaseAt:      o.ReleaseAt,
	}
}

// Create records a matched order awaiting payment.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	o, err := h.service.Create(c.UserContext(), CreateInput{
		RequestID:      req.RequestID,
		BuyerID:        req.BuyerID,
		TravelerID:     req.TravelerID,
		TravelerAmount: req.TravelerAmount,
		Currency:       req.Currency,
		ReleaseAt:      req.ReleaseAt,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(o))
}

// Get returns one order.
func (h *Handler) Get(c *fiber.Ctx) error {
	o, err := h.service.Get(c.UserContext(), c.Params("orderId"))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(o))
}

// actorHeader carries the acting user's id, set by the upstream gateway
// after it authenticates the caller. This service trusts its callers.
const actorHeader = "X-Actor-ID"

// Hold places the buyer's funds on escrow hold and marks the order PAID.
func (h *Handler) Hold(c *fiber.Ctx) error {
	actorID := c.Get(actorHeader)
	res, err := h.service.Hold(c.UserContext(), c.Params("orderId"), actorID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrConflictInProgress):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"order":    toResponse(res.Order),
		"entry_id": res.EntryID,
	})
}
