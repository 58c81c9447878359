package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/zkdrop/backend/internal/events"
	"go.uber.org/zap"
)

// Tx is one atomic unit of ledger work. Every mutation re-reads the purchase
// row under a lock and re-checks its guard before applying, so competing
// callers serialize per purchase and at most one transition wins.
type Tx interface {
	InsertPurchase(ctx context.Context, p *Purchase) error
	GetPurchaseForUpdate(ctx context.Context, id int64) (*Purchase, error)
	SetState(ctx context.Context, id int64, state string, enteredAt time.Time) error
	SetEncryptedSecret(ctx context.Context, id int64, blob string) error
	SetDeliveredAsset(ctx context.Context, id int64, assetID int64) error
	CreditAccount(ctx context.Context, address string, amountNano int64) error
	DebitAccount(ctx context.Context, address string, amountNano int64) error
	CreditCustody(ctx context.Context, amountNano int64) error
	DebitCustody(ctx context.Context, amountNano int64) error
}

// Ledger is the durable store of purchases, accounts and custodied funds.
type Ledger interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetPurchase(ctx context.Context, id int64) (*Purchase, error)
	CustodyBalance(ctx context.Context) (int64, error)
}

// Verifier is the opaque delivery-readiness proof oracle. It must be
// stateless and deterministic for a given input.
type Verifier interface {
	Verify(ctx context.Context, proof []byte, publicParams []byte) (bool, error)
}

// Issuer is the external listing / delivered-asset registry.
type Issuer interface {
	GetListing(ctx context.Context, listingID int64) (*Listing, error)
	MintDelivered(ctx context.Context, buyer string, listingID int64, metadataRef string) (int64, error)
	Deactivate(ctx context.Context, listingID int64) error
}

// Roles answers capability questions for an address.
type Roles interface {
	IsOperator(ctx context.Context, address string) (bool, error)
	IsAdmin(ctx context.Context, address string) (bool, error)
}

// Recorder persists an audit trail entry for a transition.
type Recorder interface {
	Record(ctx context.Context, actor, actorType, action string, purchaseID int64, meta map[string]any)
}

// Engine advances purchases through the escrow state machine. All mutations
// go through it; custody only ever moves together with a state change.
type Engine struct {
	ledger    Ledger
	verifier  Verifier
	issuer    Issuer
	roles     Roles
	recorder  Recorder
	publisher events.Publisher
	timeouts  Timeouts
	log       *zap.Logger
	nowFn     func() time.Time
}

func NewEngine(
	ledger Ledger,
	verifier Verifier,
	issuer Issuer,
	roles Roles,
	recorder Recorder,
	publisher events.Publisher,
	timeouts Timeouts,
	log *zap.Logger,
) *Engine {
	return &Engine{
		ledger:    ledger,
		verifier:  verifier,
		issuer:    issuer,
		roles:     roles,
		recorder:  recorder,
		publisher: publisher,
		timeouts:  timeouts,
		log:       log,
		nowFn:     time.Now,
	}
}

// SetNowFunc overrides the engine time source. Intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) Timeouts() Timeouts { return e.timeouts }

type CreatePurchaseInput struct {
	Seller      string
	ListingID   int64
	Description string
	DeliveryKey string
	AmountNano  int64
}

// CreatePurchase takes custody of the buyer's payment and opens a purchase in
// the paid state. The account debit, custody credit and record insert are one
// indivisible unit: there is no window where one exists without the others.
func (e *Engine) CreatePurchase(ctx context.Context, buyer string, in CreatePurchaseInput) (*Purchase, error) {
	if in.Seller == "" || in.Seller == buyer {
		return nil, ErrInvalidParty
	}
	if buyer == "" {
		return nil, ErrInvalidParty
	}
	if in.Description == "" {
		return nil, ErrInvalidDescription
	}
	if in.AmountNano <= 0 {
		return nil, ErrInvalidAmount
	}

	listing, err := e.issuer.GetListing(ctx, in.ListingID)
	if err != nil {
		return nil, fmt.Errorf("%w: get listing: %v", ErrCollaboratorFailure, err)
	}
	if !listing.Active || listing.Owner != in.Seller {
		return nil, ErrListingUnavailable
	}
	if listing.PriceNano != in.AmountNano {
		return nil, ErrInvalidAmount
	}

	now := e.nowFn()
	p := &Purchase{
		Buyer:            buyer,
		Seller:           in.Seller,
		AmountNano:       in.AmountNano,
		ListingID:        in.ListingID,
		Description:      in.Description,
		BuyerDeliveryKey: in.DeliveryKey,
		State:            StatePaid,
		StateEnteredAt:   now,
	}

	err = e.ledger.WithinTx(ctx, func(tx Tx) error {
		if err := tx.DebitAccount(ctx, buyer, in.AmountNano); err != nil {
			return err
		}
		if err := tx.CreditCustody(ctx, in.AmountNano); err != nil {
			return err
		}
		return tx.InsertPurchase(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, buyer, "user", "purchase_created", p.ID, map[string]any{
		"seller": in.Seller, "listing_id": in.ListingID, "amount_nano": in.AmountNano,
	})
	e.publish(ctx, events.EventPurchaseCreated, p, nil)
	return p, nil
}

// SubmitProof checks the seller's delivery-readiness proof against the
// verifier and, on acceptance, advances paid -> proof_submitted. Rejection
// leaves the state untouched; the seller retries or lets the deadline pass.
func (e *Engine) SubmitProof(ctx context.Context, caller string, id int64, proof, publicParams []byte) (*Purchase, error) {
	p, err := e.ledger.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != p.Seller {
		return nil, ErrUnauthorized
	}
	if p.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if p.State != StatePaid {
		return nil, ErrInvalidState
	}

	// Verification runs outside the ledger transaction: it can be slow and
	// has no side effects. Guards are re-checked under the row lock below.
	ok, err := e.verifier.Verify(ctx, proof, publicParams)
	if err != nil {
		return nil, fmt.Errorf("%w: verify proof: %v", ErrCollaboratorFailure, err)
	}
	if !ok {
		return nil, ErrProofRejected
	}

	p, err = e.transition(ctx, id, StatePaid, StateProofSubmitted)
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "user", "proof_submitted", id, nil)
	e.publish(ctx, events.EventProofSubmitted, p, nil)
	return p, nil
}

// ConfirmVerification is the operator acknowledgement that moves
// proof_submitted -> verified.
func (e *Engine) ConfirmVerification(ctx context.Context, caller string, id int64) (*Purchase, error) {
	isOp, err := e.roles.IsOperator(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !isOp {
		return nil, ErrUnauthorized
	}

	p, err := e.transition(ctx, id, StateProofSubmitted, StateVerified)
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "operator", "proof_verified", id, nil)
	e.publish(ctx, events.EventProofVerified, p, nil)
	return p, nil
}

// DeliverSecret records the seller's encrypted content key for out-of-band
// pickup by the buyer. Independent of the state machine, but only accepted
// once a proof has been submitted — the buyer cannot act on it earlier.
func (e *Engine) DeliverSecret(ctx context.Context, caller string, id int64, blob string) (*Purchase, error) {
	if blob == "" {
		return nil, ErrInvalidDescription
	}

	var out *Purchase
	err := e.ledger.WithinTx(ctx, func(tx Tx) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if caller != p.Seller {
			return ErrUnauthorized
		}
		switch p.State {
		case StateProofSubmitted, StateVerified, StateCompleted:
		default:
			return ErrInvalidState
		}
		if err := tx.SetEncryptedSecret(ctx, id, blob); err != nil {
			return err
		}
		p.EncryptedSecret = &blob
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "user", "secret_delivered", id, nil)
	e.publish(ctx, events.EventSecretDelivered, out, nil)
	return out, nil
}

// Deliver settles a verified purchase: seller payout, delivered-asset mint to
// the buyer and the move to completed happen as one atomic unit. If the
// issuer call fails the whole unit rolls back and the purchase stays
// verified, so the seller can safely retry.
func (e *Engine) Deliver(ctx context.Context, caller string, id int64, metadataRef string) (*Purchase, error) {
	var out *Purchase
	err := e.ledger.WithinTx(ctx, func(tx Tx) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if caller != p.Seller {
			return ErrUnauthorized
		}
		if p.Terminal() {
			return ErrAlreadyTerminal
		}
		if p.State != StateVerified {
			return ErrInvalidState
		}

		if err := tx.DebitCustody(ctx, p.AmountNano); err != nil {
			return err
		}
		if err := tx.CreditAccount(ctx, p.Seller, p.AmountNano); err != nil {
			return err
		}

		assetID, err := e.issuer.MintDelivered(ctx, p.Buyer, p.ListingID, metadataRef)
		if err != nil {
			return fmt.Errorf("%w: mint delivered asset: %v", ErrCollaboratorFailure, err)
		}
		if err := tx.SetDeliveredAsset(ctx, id, assetID); err != nil {
			return err
		}

		now := e.nowFn()
		if err := tx.SetState(ctx, id, StateCompleted, now); err != nil {
			return err
		}
		p.DeliveredAssetID = &assetID
		p.State = StateCompleted
		p.StateEnteredAt = now
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The sold listing is retired best-effort; the sale itself is settled.
	if err := e.issuer.Deactivate(ctx, out.ListingID); err != nil {
		e.log.Warn("failed to deactivate listing after delivery",
			zap.Int64("purchase_id", id),
			zap.Int64("listing_id", out.ListingID),
			zap.Error(err),
		)
	}

	e.record(ctx, caller, "user", "dataset_delivered", id, map[string]any{"asset_id": *out.DeliveredAssetID})
	e.publish(ctx, events.EventDatasetDelivered, out, nil)
	e.publish(ctx, events.EventPurchaseCompleted, out, nil)
	return out, nil
}

// Refund lets the buyer walk away from any non-terminal purchase; the full
// custodied amount is returned to the buyer's account.
func (e *Engine) Refund(ctx context.Context, caller string, id int64) (*Purchase, error) {
	p, err := e.refund(ctx, id, StateRefunded, func(p *Purchase) error {
		if caller != p.Buyer {
			return ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "user", "refund_issued", id, nil)
	e.publish(ctx, events.EventRefundIssued, p, nil)
	return p, nil
}

// SweepTimeout forces a timed-out purchase to refunded. Callable by anyone:
// an uncooperative counterparty cannot strand custodied funds once the
// per-state deadline has lapsed.
func (e *Engine) SweepTimeout(ctx context.Context, caller string, id int64) (*Purchase, error) {
	now := e.nowFn()
	p, err := e.refund(ctx, id, StateRefunded, func(p *Purchase) error {
		if !p.TimedOut(e.timeouts, now) {
			return ErrNotTimedOut
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "user", "purchase_timed_out", id, nil)
	e.publish(ctx, events.EventPurchaseTimedOut, p, nil)
	e.publish(ctx, events.EventRefundIssued, p, nil)
	return p, nil
}

// Cancel is the administrative escape hatch. Custody goes back to the buyer
// and the purchase lands in the terminal cancelled state.
func (e *Engine) Cancel(ctx context.Context, caller string, id int64) (*Purchase, error) {
	isAdmin, err := e.roles.IsAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, ErrUnauthorized
	}

	p, err := e.refund(ctx, id, StateCancelled, nil)
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "admin", "purchase_cancelled", id, nil)
	e.publish(ctx, events.EventPurchaseCancelled, p, nil)
	return p, nil
}

// Dispute freezes a non-terminal purchase under the disputed marker. Funds
// stay in custody until an admin resolves the dispute.
func (e *Engine) Dispute(ctx context.Context, caller string, id int64) (*Purchase, error) {
	isAdmin, err := e.roles.IsAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, ErrUnauthorized
	}

	var out *Purchase
	err = e.ledger.WithinTx(ctx, func(tx Tx) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Terminal() {
			return ErrAlreadyTerminal
		}
		if !IsValidTransition(p.State, StateDisputed) {
			return ErrInvalidState
		}
		now := e.nowFn()
		if err := tx.SetState(ctx, id, StateDisputed, now); err != nil {
			return err
		}
		p.State = StateDisputed
		p.StateEnteredAt = now
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "admin", "purchase_disputed", id, nil)
	e.publish(ctx, events.EventPurchaseDisputed, out, nil)
	return out, nil
}

// Resolve closes a disputed purchase. Both outcomes return custody to the
// buyer; "refund" records the buyer prevailing, "cancel" an administrative
// void of the trade.
func (e *Engine) Resolve(ctx context.Context, caller string, id int64, outcome string) (*Purchase, error) {
	isAdmin, err := e.roles.IsAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, ErrUnauthorized
	}

	var target, eventType string
	switch outcome {
	case "refund":
		target, eventType = StateRefunded, events.EventRefundIssued
	case "cancel":
		target, eventType = StateCancelled, events.EventPurchaseCancelled
	default:
		return nil, ErrInvalidState
	}

	p, err := e.refund(ctx, id, target, func(p *Purchase) error {
		if p.State != StateDisputed {
			return ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, caller, "admin", "dispute_resolved_"+outcome, id, nil)
	e.publish(ctx, eventType, p, nil)
	return p, nil
}

// GetPurchase returns the full record.
func (e *Engine) GetPurchase(ctx context.Context, id int64) (*Purchase, error) {
	return e.ledger.GetPurchase(ctx, id)
}

// GetState returns the state projection including the live deadline.
func (e *Engine) GetState(ctx context.Context, id int64) (*StateInfo, error) {
	p, err := e.ledger.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	info := &StateInfo{
		ID:             p.ID,
		State:          p.State,
		StateEnteredAt: p.StateEnteredAt,
		TimedOut:       p.TimedOut(e.timeouts, e.nowFn()),
		Completed:      p.Completed(),
	}
	if deadline, ok := p.Deadline(e.timeouts); ok {
		info.Deadline = &deadline
	}
	return info, nil
}

// CustodyBalance reports the total funds currently held on behalf of
// non-terminal purchases.
func (e *Engine) CustodyBalance(ctx context.Context) (int64, error) {
	return e.ledger.CustodyBalance(ctx)
}

// refund moves custody back to the buyer and lands the purchase in the given
// sideways terminal state, all under the row lock. guard, if set, runs after
// the lock is taken with the current record.
func (e *Engine) refund(ctx context.Context, id int64, target string, guard func(*Purchase) error) (*Purchase, error) {
	var out *Purchase
	err := e.ledger.WithinTx(ctx, func(tx Tx) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Terminal() {
			return ErrAlreadyTerminal
		}
		if guard != nil {
			if err := guard(p); err != nil {
				return err
			}
		}
		if !IsValidTransition(p.State, target) {
			return ErrInvalidState
		}

		if err := tx.DebitCustody(ctx, p.AmountNano); err != nil {
			return err
		}
		if err := tx.CreditAccount(ctx, p.Buyer, p.AmountNano); err != nil {
			return err
		}
		now := e.nowFn()
		if err := tx.SetState(ctx, id, target, now); err != nil {
			return err
		}
		p.State = target
		p.StateEnteredAt = now
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transition applies a forward edge with a compare-and-set on the expected
// source state.
func (e *Engine) transition(ctx context.Context, id int64, from, to string) (*Purchase, error) {
	var out *Purchase
	err := e.ledger.WithinTx(ctx, func(tx Tx) error {
		p, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Terminal() {
			return ErrAlreadyTerminal
		}
		if p.State != from || !IsValidTransition(from, to) {
			return ErrInvalidState
		}
		now := e.nowFn()
		if err := tx.SetState(ctx, id, to, now); err != nil {
			return err
		}
		p.State = to
		p.StateEnteredAt = now
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) record(ctx context.Context, actor, actorType, action string, purchaseID int64, meta map[string]any) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(ctx, actor, actorType, action, purchaseID, meta)
}

func (e *Engine) publish(ctx context.Context, eventType string, p *Purchase, extra map[string]any) {
	if e.publisher == nil {
		return
	}
	payload := map[string]any{
		"purchase_id": p.ID,
		"buyer":       p.Buyer,
		"seller":      p.Seller,
		"state":       p.State,
	}
	for k, v := range extra {
		payload[k] = v
	}
	_ = e.publisher.Publish(ctx, events.PurchaseStream, events.Event{
		Type:    eventType,
		Payload: payload,
	})
}
