package events

import "context"

// PurchaseStream is the pub/sub channel carrying every escrow transition.
const PurchaseStream = "events:purchase"

// Event types, one per successful transition
const (
	EventPurchaseCreated   = "purchase_created"
	EventPaymentReceived   = "payment_received"
	EventProofSubmitted    = "proof_submitted"
	EventProofVerified     = "proof_verified"
	EventSecretDelivered   = "secret_delivered"
	EventDatasetDelivered  = "dataset_delivered"
	EventPurchaseCompleted = "purchase_completed"
	EventPurchaseTimedOut  = "purchase_timed_out"
	EventRefundIssued      = "refund_issued"
	EventPurchaseCancelled = "purchase_cancelled"
	EventPurchaseDisputed  = "purchase_disputed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
