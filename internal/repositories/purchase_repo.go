package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zkdrop/backend/internal/escrow"
)

// PurchaseRepo serves read-only purchase queries. All mutation goes through
// the LedgerStore inside engine transactions.
type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

type PurchaseFilter struct {
	Buyer  *string
	Seller *string
	State  *string
	Limit  int
	Offset int
}

func (r *PurchaseRepo) List(ctx context.Context, f PurchaseFilter) ([]escrow.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Buyer != nil {
		where = append(where, fmt.Sprintf("buyer = $%d", argIdx))
		args = append(args, *f.Buyer)
		argIdx++
	}
	if f.Seller != nil {
		where = append(where, fmt.Sprintf("seller = $%d", argIdx))
		args = append(args, *f.Seller)
		argIdx++
	}
	if f.State != nil {
		where = append(where, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, *f.State)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []escrow.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	return purchases, nil
}

// GetTimedOut returns ids of purchases sitting in the given state past its
// timeout window. The sweeper re-checks the deadline under a row lock before
// refunding, so a stale result here is harmless.
func (r *PurchaseRepo) GetTimedOut(ctx context.Context, state string, windowSeconds int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM purchases
		WHERE state = $1 AND state_entered_at < now() - ($2 || ' seconds')::interval
		ORDER BY id
	`, state, fmt.Sprintf("%d", windowSeconds))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ActiveAmountSum is the invariant counterpart of the custody balance: the
// sum of amounts over all non-terminal purchases.
func (r *PurchaseRepo) ActiveAmountSum(ctx context.Context) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM purchases
		WHERE state NOT IN ($1, $2, $3)
	`, escrow.StateCompleted, escrow.StateRefunded, escrow.StateCancelled).Scan(&sum)
	return sum, err
}
