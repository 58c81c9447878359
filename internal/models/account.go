package models

import "time"

// Account is an internal ledger account keyed by TON wallet address. Deposits
// detected by the indexer credit it; purchases debit it; payouts and refunds
// credit it back.
type Account struct {
	Address     string    `json:"address"`
	BalanceNano int64     `json:"balance_nano"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Payout statuses
const (
	PayoutStatusPending = "pending"
	PayoutStatusSent    = "sent"
	PayoutStatusFailed  = "failed"
)

// Payout is a queued withdrawal from an account back to the owner's wallet.
// The hot wallet sender picks up pending rows and fills tx_hash.
type Payout struct {
	ID          int64     `json:"id"`
	Address     string    `json:"address"`
	AmountNano  int64     `json:"amount_nano"`
	Status      string    `json:"status"`
	TxHash      *string   `json:"tx_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
