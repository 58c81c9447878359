package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zkdrop/backend/internal/escrow"
	"github.com/zkdrop/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Get(ctx context.Context, address string) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT address, balance_nano, created_at, updated_at
		FROM accounts WHERE address = $1
	`, address).Scan(&a.Address, &a.BalanceNano, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Address without deposits yet reads as a zero balance.
			return &models.Account{Address: address}, nil
		}
		return nil, err
	}
	return &a, nil
}

// Credit is used by the deposit indexer when an incoming transfer is matched
// to an account memo.
func (r *AccountRepo) Credit(ctx context.Context, address string, amountNano int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (address, balance_nano)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE
			SET balance_nano = accounts.balance_nano + EXCLUDED.balance_nano,
			    updated_at = now()
	`, address, amountNano)
	return err
}

// Withdraw debits the account and queues a payout in one transaction. The
// balance guard lives in SQL so a racing withdrawal cannot overdraw.
func (r *AccountRepo) Withdraw(ctx context.Context, address string, amountNano int64) (*models.Payout, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET balance_nano = balance_nano - $1, updated_at = now()
		WHERE address = $2 AND balance_nano >= $1
	`, amountNano, address)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, escrow.ErrInsufficientFunds
	}

	p := &models.Payout{Address: address, AmountNano: amountNano, Status: models.PayoutStatusPending}
	err = tx.QueryRow(ctx, `
		INSERT INTO payouts (address, amount_nano, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, p.Address, p.AmountNano, p.Status).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *AccountRepo) ListPendingPayouts(ctx context.Context, limit int) ([]models.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, address, amount_nano, status, tx_hash, created_at, completed_at
		FROM payouts WHERE status = $1 ORDER BY id LIMIT $2
	`, models.PayoutStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []models.Payout
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.ID, &p.Address, &p.AmountNano, &p.Status, &p.TxHash, &p.CreatedAt, &p.CompletedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, nil
}

func (r *AccountRepo) MarkPayoutSent(ctx context.Context, id int64, txHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = $1, tx_hash = $2, completed_at = now()
		WHERE id = $3 AND status = $4
	`, models.PayoutStatusSent, txHash, id, models.PayoutStatusPending)
	return err
}
