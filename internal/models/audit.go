package models

import "time"

type AuditLog struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`      // wallet address, or "worker"/"indexer"
	ActorType  string    `json:"actor_type"` // user/operator/admin/system
	Action     string    `json:"action"`
	PurchaseID *int64    `json:"purchase_id,omitempty"`
	Meta       any       `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
