package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/config"
	"github.com/zkdrop/backend/internal/escrow"
	"github.com/zkdrop/backend/internal/http/dto"
	"github.com/zkdrop/backend/internal/middleware"
	"github.com/zkdrop/backend/internal/services"
	"go.uber.org/zap"
)

type AccountHandler struct {
	accounts *services.AccountService
	cfg      *config.Config
	log      *zap.Logger
}

func NewAccountHandler(accounts *services.AccountService, cfg *config.Config, log *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, cfg: cfg, log: log}
}

func (h *AccountHandler) GetBalance(c *fiber.Ctx) error {
	account, err := h.accounts.GetBalance(c.Context(), middleware.GetAddress(c))
	if err != nil {
		h.log.Error("get balance failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: account})
}

// DepositInfo tells the client where to send TON and which memo to attach so
// the indexer can credit the right account.
func (h *AccountHandler) DepositInfo(c *fiber.Ctx) error {
	addr := middleware.GetAddress(c)
	return c.JSON(dto.DepositInfoResponse{
		WalletAddress: h.cfg.TONHotWalletAddress,
		Memo:          fmt.Sprintf("acct:%s", addr),
		Network:       h.cfg.TONNetwork,
	})
}

func (h *AccountHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	payout, err := h.accounts.RequestWithdrawal(c.Context(), middleware.GetAddress(c), req.AmountNano)
	if err != nil {
		if errors.Is(err, escrow.ErrInvalidAmount) || errors.Is(err, escrow.ErrInsufficientFunds) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.log.Error("withdrawal failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: payout})
}
