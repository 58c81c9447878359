package models

import "time"

// RoleGrant assigns a capability to a wallet address. Grants are only ever
// revoked, never deleted, so the history stays auditable.
type RoleGrant struct {
	ID        int64      `json:"id"`
	Address   string     `json:"address"`
	Role      string     `json:"role"` // operator/admin
	GrantedBy string     `json:"granted_by"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
