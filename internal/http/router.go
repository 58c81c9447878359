package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/zkdrop/backend/internal/config"
	"github.com/zkdrop/backend/internal/http/handlers"
	"github.com/zkdrop/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	listingHandler *handlers.ListingHandler,
	purchaseHandler *handlers.PurchaseHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/challenge", authHandler.Challenge)
	api.Post("/auth/verify", authHandler.Verify)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Anyone may sweep a timed-out purchase; no session required.
	api.Post("/purchases/:id/sweep", purchaseHandler.SweepTimeout)
	api.Get("/purchases/:id/state", purchaseHandler.GetState)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Account
	protected.Get("/me/balance", accountHandler.GetBalance)
	protected.Get("/me/deposit-info", accountHandler.DepositInfo)
	protected.Post("/me/withdraw", accountHandler.Withdraw)

	// Listings
	protected.Post("/listings", listingHandler.Create)
	protected.Get("/listings/:id", listingHandler.Get)

	// Purchases
	protected.Post("/purchases", purchaseHandler.Create)
	protected.Get("/purchases", purchaseHandler.List)
	protected.Get("/purchases/:id", purchaseHandler.Get)
	protected.Post("/purchases/:id/proof", purchaseHandler.SubmitProof)
	protected.Post("/purchases/:id/confirm", purchaseHandler.ConfirmVerification)
	protected.Post("/purchases/:id/secret", purchaseHandler.DeliverSecret)
	protected.Get("/purchases/:id/secret", purchaseHandler.GetSecret)
	protected.Post("/purchases/:id/deliver", purchaseHandler.Deliver)
	protected.Post("/purchases/:id/refund", purchaseHandler.Refund)
	protected.Get("/purchases/:id/events", purchaseHandler.GetEvents)

	// Admin
	admin := protected.Group("/admin", adminHandler.RequireAdmin)
	admin.Get("/operators", adminHandler.ListOperators)
	admin.Post("/operators", adminHandler.GrantOperator)
	admin.Delete("/operators/:address", adminHandler.RevokeOperator)
	admin.Post("/purchases/:id/cancel", adminHandler.Cancel)
	admin.Post("/purchases/:id/dispute", adminHandler.Dispute)
	admin.Post("/purchases/:id/resolve", adminHandler.Resolve)
	admin.Get("/custody", adminHandler.Custody)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
