package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zkdrop/backend/internal/models"
)

type GrantRepo struct {
	pool *pgxpool.Pool
}

func NewGrantRepo(pool *pgxpool.Pool) *GrantRepo {
	return &GrantRepo{pool: pool}
}

func (r *GrantRepo) Grant(ctx context.Context, address, role, grantedBy string) (*models.RoleGrant, error) {
	g := &models.RoleGrant{Address: address, Role: role, GrantedBy: grantedBy}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO role_grants (address, role, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, role) WHERE revoked_at IS NULL DO NOTHING
		RETURNING id, created_at
	`, address, role, grantedBy).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		// Conflict: the grant already exists; surface the active row.
		existing, lookupErr := r.get(ctx, address, role)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return g, nil
}

func (r *GrantRepo) Revoke(ctx context.Context, address, role string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE role_grants SET revoked_at = now()
		WHERE address = $1 AND role = $2 AND revoked_at IS NULL
	`, address, role)
	return err
}

func (r *GrantRepo) HasRole(ctx context.Context, address, role string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM role_grants
			WHERE address = $1 AND role = $2 AND revoked_at IS NULL
		)
	`, address, role).Scan(&exists)
	return exists, err
}

func (r *GrantRepo) ListByRole(ctx context.Context, role string) ([]models.RoleGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, address, role, granted_by, created_at, revoked_at
		FROM role_grants WHERE role = $1 AND revoked_at IS NULL
		ORDER BY created_at
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []models.RoleGrant
	for rows.Next() {
		var g models.RoleGrant
		if err := rows.Scan(&g.ID, &g.Address, &g.Role, &g.GrantedBy, &g.CreatedAt, &g.RevokedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, nil
}

func (r *GrantRepo) get(ctx context.Context, address, role string) (*models.RoleGrant, error) {
	var g models.RoleGrant
	err := r.pool.QueryRow(ctx, `
		SELECT id, address, role, granted_by, created_at, revoked_at
		FROM role_grants WHERE address = $1 AND role = $2 AND revoked_at IS NULL
	`, address, role).Scan(&g.ID, &g.Address, &g.Role, &g.GrantedBy, &g.CreatedAt, &g.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
