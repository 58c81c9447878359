package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zkdrop/backend/internal/escrow"
)

// LedgerStore is the pgx implementation of escrow.Ledger. Each WithinTx call
// maps to one database transaction; row locks on purchases serialize
// competing transitions and the custody/account updates carry their own
// balance guards in SQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) WithinTx(ctx context.Context, fn func(tx escrow.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	lt := &ledgerTx{tx: tx}
	if err := fn(lt); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const purchaseColumns = `
	id, buyer, seller, amount_nano, listing_id, description, buyer_delivery_key,
	encrypted_secret, delivered_asset_id, state, state_entered_at, created_at, updated_at`

func scanPurchase(row pgx.Row) (*escrow.Purchase, error) {
	var p escrow.Purchase
	err := row.Scan(&p.ID, &p.Buyer, &p.Seller, &p.AmountNano, &p.ListingID, &p.Description,
		&p.BuyerDeliveryKey, &p.EncryptedSecret, &p.DeliveredAssetID, &p.State,
		&p.StateEnteredAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *LedgerStore) GetPurchase(ctx context.Context, id int64) (*escrow.Purchase, error) {
	return scanPurchase(s.pool.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
}

func (s *LedgerStore) CustodyBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT balance_nano FROM custody WHERE id = 1`).Scan(&balance)
	return balance, err
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) InsertPurchase(ctx context.Context, p *escrow.Purchase) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO purchases (buyer, seller, amount_nano, listing_id, description,
		                       buyer_delivery_key, state, state_entered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, p.Buyer, p.Seller, p.AmountNano, p.ListingID, p.Description,
		p.BuyerDeliveryKey, p.State, p.StateEnteredAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (t *ledgerTx) GetPurchaseForUpdate(ctx context.Context, id int64) (*escrow.Purchase, error) {
	return scanPurchase(t.tx.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
}

func (t *ledgerTx) SetState(ctx context.Context, id int64, state string, enteredAt time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE purchases SET state = $1, state_entered_at = $2, updated_at = now() WHERE id = $3
	`, state, enteredAt, id)
	return err
}

func (t *ledgerTx) SetEncryptedSecret(ctx context.Context, id int64, blob string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE purchases SET encrypted_secret = $1, updated_at = now() WHERE id = $2
	`, blob, id)
	return err
}

func (t *ledgerTx) SetDeliveredAsset(ctx context.Context, id int64, assetID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE purchases SET delivered_asset_id = $1, updated_at = now() WHERE id = $2
	`, assetID, id)
	return err
}

func (t *ledgerTx) CreditAccount(ctx context.Context, address string, amountNano int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (address, balance_nano)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE
			SET balance_nano = accounts.balance_nano + EXCLUDED.balance_nano,
			    updated_at = now()
	`, address, amountNano)
	return err
}

func (t *ledgerTx) DebitAccount(ctx context.Context, address string, amountNano int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts SET balance_nano = balance_nano - $1, updated_at = now()
		WHERE address = $2 AND balance_nano >= $1
	`, amountNano, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrInsufficientFunds
	}
	return nil
}

func (t *ledgerTx) CreditCustody(ctx context.Context, amountNano int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE custody SET balance_nano = balance_nano + $1, updated_at = now() WHERE id = 1
	`, amountNano)
	return err
}

func (t *ledgerTx) DebitCustody(ctx context.Context, amountNano int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE custody SET balance_nano = balance_nano - $1, updated_at = now()
		WHERE id = 1 AND balance_nano >= $1
	`, amountNano)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrInsufficientFunds
	}
	return nil
}
