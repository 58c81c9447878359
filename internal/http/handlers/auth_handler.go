package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/http/dto"
	"github.com/zkdrop/backend/internal/services"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *services.AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService *services.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

// Challenge hands out the nonce the wallet must sign into its ton_proof.
func (h *AuthHandler) Challenge(c *fiber.Ctx) error {
	nonce, ttl, err := h.authService.IssueChallenge(c.Context())
	if err != nil {
		h.log.Error("failed to issue auth challenge", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.AuthChallengeResponse{
		Payload:          nonce,
		ExpiresInSeconds: int64(ttl.Seconds()),
	})
}

// Verify checks the wallet's signed proof and issues a session token.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req dto.AuthVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Address == "" || req.PublicKey == "" || req.Proof.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address, public_key and proof are required"})
	}

	token, err := h.authService.VerifyProof(c.Context(), req.ProofData)
	if err != nil {
		h.log.Debug("wallet auth failed", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.AuthResponse{Token: token, Address: req.Address})
}
