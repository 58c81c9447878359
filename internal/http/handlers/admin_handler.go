package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/escrow"
	"github.com/zkdrop/backend/internal/http/dto"
	"github.com/zkdrop/backend/internal/middleware"
	"github.com/zkdrop/backend/internal/rbac"
	"github.com/zkdrop/backend/internal/repositories"
	"github.com/zkdrop/backend/internal/services"
	"go.uber.org/zap"
)

type AdminHandler struct {
	engine    *escrow.Engine
	roles     *services.RoleService
	grants    *repositories.GrantRepo
	purchases *repositories.PurchaseRepo
	log       *zap.Logger
}

func NewAdminHandler(engine *escrow.Engine, roles *services.RoleService, grants *repositories.GrantRepo, purchases *repositories.PurchaseRepo, log *zap.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, roles: roles, grants: grants, purchases: purchases, log: log}
}

// RequireAdmin guards the admin route group.
func (h *AdminHandler) RequireAdmin(c *fiber.Ctx) error {
	isAdmin, err := h.roles.IsAdmin(c.Context(), middleware.GetAddress(c))
	if err != nil {
		h.log.Error("admin check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	if !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "admin access required"})
	}
	return c.Next()
}

func (h *AdminHandler) GrantOperator(c *fiber.Ctx) error {
	var req dto.GrantRoleRequest
	if err := c.BodyParser(&req); err != nil || req.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address is required"})
	}

	grant, err := h.grants.Grant(c.Context(), req.Address, rbac.RoleOperator, middleware.GetAddress(c))
	if err != nil {
		h.log.Error("grant operator failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: grant})
}

func (h *AdminHandler) RevokeOperator(c *fiber.Ctx) error {
	addr := c.Params("address")
	if addr == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address is required"})
	}

	if err := h.grants.Revoke(c.Context(), addr, rbac.RoleOperator); err != nil {
		h.log.Error("revoke operator failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AdminHandler) ListOperators(c *fiber.Ctx) error {
	grants, err := h.grants.ListByRole(c.Context(), rbac.RoleOperator)
	if err != nil {
		h.log.Error("list operators failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: grants})
}

func (h *AdminHandler) Cancel(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	p, err := h.engine.Cancel(c.Context(), middleware.GetAddress(c), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *AdminHandler) Dispute(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	p, err := h.engine.Dispute(c.Context(), middleware.GetAddress(c), id)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *AdminHandler) Resolve(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid purchase id"})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	p, err := h.engine.Resolve(c.Context(), middleware.GetAddress(c), id, req.Outcome)
	if err != nil {
		return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

// Custody reports the custody balance next to the sum it must equal: the
// amounts of all purchases still in flight.
func (h *AdminHandler) Custody(c *fiber.Ctx) error {
	balance, err := h.engine.CustodyBalance(c.Context())
	if err != nil {
		h.log.Error("custody balance failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	active, err := h.purchases.ActiveAmountSum(c.Context())
	if err != nil {
		h.log.Error("active amount sum failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CustodyResponse{
		BalanceNano:      balance,
		ActiveAmountNano: active,
	}})
}
