package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/zkdrop/backend/internal/config"
	"github.com/zkdrop/backend/internal/db"
	"github.com/zkdrop/backend/internal/escrow"
	"github.com/zkdrop/backend/internal/events"
	apphttp "github.com/zkdrop/backend/internal/http"
	"github.com/zkdrop/backend/internal/http/handlers"
	"github.com/zkdrop/backend/internal/repositories"
	"github.com/zkdrop/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	ledger := repositories.NewLedgerStore(pool)
	purchaseRepo := repositories.NewPurchaseRepo(pool)
	accountRepo := repositories.NewAccountRepo(pool)
	grantRepo := repositories.NewGrantRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool, log)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	verifier := services.NewVerifierClient(cfg.VerifierURL, log)
	issuer := services.NewIssuerClient(cfg.IssuerURL, log)
	roles := services.NewRoleService(cfg, grantRepo)
	accountService := services.NewAccountService(accountRepo, log)
	authService := services.NewAuthService(rdb, cfg, log)

	timeouts := escrow.Timeouts{
		Paid:           time.Duration(cfg.TimeoutPaidSeconds) * time.Second,
		ProofSubmitted: time.Duration(cfg.TimeoutProofSeconds) * time.Second,
		Verified:       time.Duration(cfg.TimeoutVerifiedSeconds) * time.Second,
		Disputed:       time.Duration(cfg.TimeoutDisputedSeconds) * time.Second,
	}
	engine := escrow.NewEngine(ledger, verifier, issuer, roles, auditRepo, publisher, timeouts, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	accountHandler := handlers.NewAccountHandler(accountService, cfg, log)
	listingHandler := handlers.NewListingHandler(issuer, log)
	purchaseHandler := handlers.NewPurchaseHandler(engine, purchaseRepo, auditRepo, log)
	adminHandler := handlers.NewAdminHandler(engine, roles, grantRepo, purchaseRepo, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, accountHandler, listingHandler, purchaseHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
