package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/escrow"
	"github.com/zkdrop/backend/internal/http/dto"
	"github.com/zkdrop/backend/internal/middleware"
	"github.com/zkdrop/backend/internal/repositories"
	"go.uber.org/zap"
)

type PurchaseHandler struct {
	engine    *escrow.Engine
	purchases *repositories.PurchaseRepo
	audit     *repositories.AuditRepo
	log       *zap.Logger
}

func NewPurchaseHandler(engine *escrow.Engine, purchases *repositories.PurchaseRepo, audit *repositories.AuditRepo, log *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{engine: engine, purchases: purchases, audit: audit, log: log}
}

// statusFor maps engine errors onto HTTP statuses. Guard violations are 409:
// the request was well-formed, the purchase just is not in the right state.
func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrAlreadyTerminal),
		errors.Is(err, escrow.ErrNotTimedOut):
		return fiber.StatusConflict
	case errors.Is(err, escrow.ErrProofRejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrInvalidParty),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidDescription),
		errors.Is(err, escrow.ErrListingUnavailable),
		errors.Is(err, escrow.ErrInsufficientFunds):
		return fiber.StatusBadRequest
	case errors.Is(err, escrow.ErrCollaboratorFailure):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *PurchaseHandler) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error("purchase request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}

func purchaseID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func (h *PurchaseHandler) Create(c *fiber.Ctx) error {
	var req dto.CreatePurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	buyer := middleware.GetAddress(c)
	p, err := h.engine.CreatePurchase(c.Context(), buyer, escrow.CreatePurchaseInput{
		Seller:      req.Seller,
		ListingID:   req.ListingID,
		Description: req.Description,
		DeliveryKey: req.DeliveryKey,
		AmountNano:  req.AmountNano,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PurchaseHandler) List(c *fiber.Ctx) error {
	addr := middleware.GetAddress(c)
	filter := repositories.PurchaseFilter{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("state"); v != "" {
		filter.State = &v
	}

	switch c.Query("role") {
	case "seller":
		filter.Seller = &addr
	default:
		filter.Buyer = &addr
	}

	purchases, err := h.purchases.List(c.Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: purchases})
}

func (h *PurchaseHandler) Get(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	p, err := h.engine.GetPurchase(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	// The encrypted secret is for the buyer only.
	if middleware.GetAddress(c) != p.Buyer {
		p.EncryptedSecret = nil
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PurchaseHandler) GetState(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	info, err := h.engine.GetState(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: info})
}

func (h *PurchaseHandler) SubmitProof(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	var req dto.SubmitProofRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if len(req.Proof) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "proof is required"})
	}

	p, err := h.engine.SubmitProof(c.Context(), middleware.GetAddress(c), id, req.Proof, req.PublicParams)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PurchaseHandler) ConfirmVerification(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	p, err := h.engine.ConfirmVerification(c.Context(), middleware.GetAddress(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PurchaseHandler) DeliverSecret(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	var req dto.DeliverSecretRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.EncryptedSecret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "encrypted_secret is required"})
	}

	p, err := h.engine.DeliverSecret(c.Context(), middleware.GetAddress(c), id, req.EncryptedSecret)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

// GetSecret returns the encrypted secret to the buyer once the seller has
// posted it.
func (h *PurchaseHandler) GetSecret(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	p, err := h.engine.GetPurchase(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	if middleware.GetAddress(c) != p.Buyer {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "only the buyer may read the secret"})
	}
	if p.EncryptedSecret == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "secret not delivered yet"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"purchase_id":      p.ID,
		"encrypted_secret": *p.EncryptedSecret,
	}})
}

func (h *PurchaseHandler) Deliver(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	var req dto.DeliverRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	p, err := h.engine.Deliver(c.Context(), middleware.GetAddress(c), id, req.MetadataRef)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PurchaseHandler) Refund(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	p, err := h.engine.Refund(c.Context(), middleware.GetAddress(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

// SweepTimeout is deliberately public: anyone may force the refund of a
// timed-out purchase.
func (h *PurchaseHandler) SweepTimeout(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	p, err := h.engine.SweepTimeout(c.Context(), middleware.GetAddress(c), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *PurchaseHandler) GetEvents(c *fiber.Ctx) error {
	id, err := purchaseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	logs, err := h.audit.GetByPurchase(c.Context(), id, limit, offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
