package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/http/dto"
	"github.com/zkdrop/backend/internal/middleware"
	"github.com/zkdrop/backend/internal/services"
	"go.uber.org/zap"
)

// ListingHandler proxies the listing registry owned by the issuer service.
type ListingHandler struct {
	issuer *services.IssuerClient
	log    *zap.Logger
}

func NewListingHandler(issuer *services.IssuerClient, log *zap.Logger) *ListingHandler {
	return &ListingHandler{issuer: issuer, log: log}
}

func (h *ListingHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.PriceNano <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "price_nano must be positive"})
	}
	if req.MetadataRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "metadata_ref is required"})
	}

	listing, err := h.issuer.MintListing(c.Context(), services.MintListingInput{
		Owner:       middleware.GetAddress(c),
		PriceNano:   req.PriceNano,
		MetadataRef: req.MetadataRef,
		Category:    req.Category,
	})
	if err != nil {
		h.log.Error("mint listing failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "issuer unavailable"})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: listing})
}

func (h *ListingHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid listing id"})
	}

	listing, err := h.issuer.GetListing(c.Context(), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: listing})
}
