package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zkdrop/backend/internal/config"
	"github.com/zkdrop/backend/internal/db"
	"github.com/zkdrop/backend/internal/escrow"
	"github.com/zkdrop/backend/internal/events"
	"github.com/zkdrop/backend/internal/repositories"
	"github.com/zkdrop/backend/internal/services"
	"go.uber.org/zap"
)

// The sweeper is a convenience, not an authority: it calls the same
// timeout-sweep operation anyone may call over the API, so the deadline and
// guard checks all live in the engine.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	ledger := repositories.NewLedgerStore(pool)
	purchaseRepo := repositories.NewPurchaseRepo(pool)
	grantRepo := repositories.NewGrantRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool, log)

	publisher := events.NewRedisPublisher(rdb, log)
	verifier := services.NewVerifierClient(cfg.VerifierURL, log)
	issuer := services.NewIssuerClient(cfg.IssuerURL, log)
	roles := services.NewRoleService(cfg, grantRepo)

	timeouts := escrow.Timeouts{
		Paid:           time.Duration(cfg.TimeoutPaidSeconds) * time.Second,
		ProofSubmitted: time.Duration(cfg.TimeoutProofSeconds) * time.Second,
		Verified:       time.Duration(cfg.TimeoutVerifiedSeconds) * time.Second,
		Disputed:       time.Duration(cfg.TimeoutDisputedSeconds) * time.Second,
	}
	engine := escrow.NewEngine(ledger, verifier, issuer, roles, auditRepo, publisher, timeouts, log)

	log.Info("sweep worker started", zap.Duration("interval", cfg.SweepInterval))

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runSweep(ctx, cfg, purchaseRepo, engine, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runSweep(ctx context.Context, cfg *config.Config, purchaseRepo *repositories.PurchaseRepo, engine *escrow.Engine, log *zap.Logger) {
	windows := map[string]int{
		escrow.StatePaid:           cfg.TimeoutPaidSeconds,
		escrow.StateProofSubmitted: cfg.TimeoutProofSeconds,
		escrow.StateVerified:       cfg.TimeoutVerifiedSeconds,
		escrow.StateDisputed:       cfg.TimeoutDisputedSeconds,
	}

	for state, window := range windows {
		ids, err := purchaseRepo.GetTimedOut(ctx, state, window)
		if err != nil {
			log.Error("failed to query timed out purchases", zap.String("state", state), zap.Error(err))
			continue
		}

		for _, id := range ids {
			_, err := engine.SweepTimeout(ctx, "worker", id)
			if err != nil {
				// Someone else may have swept or transitioned the purchase
				// between the query and the lock.
				if errors.Is(err, escrow.ErrAlreadyTerminal) || errors.Is(err, escrow.ErrNotTimedOut) {
					continue
				}
				log.Error("failed to sweep purchase", zap.Int64("purchase_id", id), zap.Error(err))
				continue
			}
			log.Info("swept timed out purchase",
				zap.Int64("purchase_id", id),
				zap.String("state", state),
			)
		}
	}
}
