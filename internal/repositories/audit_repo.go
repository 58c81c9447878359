package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zkdrop/backend/internal/models"
	"go.uber.org/zap"
)

type AuditRepo struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewAuditRepo(pool *pgxpool.Pool, log *zap.Logger) *AuditRepo {
	return &AuditRepo{pool: pool, log: log}
}

// Record implements escrow.Recorder. Audit failures are logged, not
// propagated: the transition itself has already committed.
func (r *AuditRepo) Record(ctx context.Context, actor, actorType, action string, purchaseID int64, meta map[string]any) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor, actor_type, action, purchase_id, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, actor, actorType, action, purchaseID, meta)
	if err != nil {
		r.log.Error("failed to write audit entry",
			zap.String("action", action),
			zap.Int64("purchase_id", purchaseID),
			zap.Error(err),
		)
	}
}

func (r *AuditRepo) GetByPurchase(ctx context.Context, purchaseID int64, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, actor_type, action, purchase_id, meta, created_at
		FROM audit_log WHERE purchase_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, purchaseID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Actor, &l.ActorType, &l.Action, &l.PurchaseID, &l.Meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, nil
}
