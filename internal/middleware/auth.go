package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/auth"
	"github.com/zkdrop/backend/internal/config"
	"go.uber.org/zap"
)

const CtxAddress = "wallet_address"

// AuthMiddleware validates the bearer token and stores the proven wallet
// address on the request context.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(header, "Bearer ")
		if tokenStr == header {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization header"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt validation failed", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		c.Locals(CtxAddress, claims.Address)
		return c.Next()
	}
}

// GetAddress returns the authenticated wallet address, or "" on public routes.
func GetAddress(c *fiber.Ctx) string {
	addr, _ := c.Locals(CtxAddress).(string)
	return addr
}
