package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

type walletResponse struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type topUpRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	ClientID string          `json:"client_tx_id"`
}

type zeroRequest struct {
	ClientID string `json:"client_tx_id"`
	Reason   string `json:"reason"`
}

// Create provisions a wallet for the given owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{OwnerID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(walletResponse{
		ID:       w.ID,
		OwnerID:  w.OwnerID,
		Currency: w.Currency,
		Status:   w.Status,
	})
}

// Balances returns the wallet's available and pending balances.
func (h *Handler) Balances(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	balances, err := h.service.Balances(c.UserContext(), walletID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balances.WalletID,
		"available": balances.Available,
		"pending":   balances.Pending,
		"currency":  balances.Currency,
		"timestamp": balances.AsOf,
	})
}

// TopUp credits the wallet from the platform treasury.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if !req.Amount.IsPositive() {
		return fiber.NewError(http.StatusBadRequest, "amount must be positive")
	}

	res, err := h.service.TopUp(c.UserContext(), TopUpInput{
		WalletID:       walletID,
		Amount:         req.Amount,
		IdempotencyKey: req.ClientID,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"entry_id":  res.EntryID,
		"available": res.Available,
	})
}

// Zero empties the wallet into the platform clearing account. Administrative
// endpoint, mounted behind the operator credential.
func (h *Handler) Zero(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	var req zeroRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.ClientID == "" {
		return fiber.NewError(http.StatusBadRequest, "client_tx_id is required")
	}

	res, err := h.service.ZeroWallet(c.UserContext(), ZeroInput{
		WalletID:       walletID,
		IdempotencyKey: req.ClientID,
		Reason:         req.Reason,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"entry_ids": res.EntryIDs,
		"zeroed":    res.Zeroed,
	})
}
