package escrow

import "time"

// Purchase states
const (
	StatePaid           = "paid"
	StateProofSubmitted = "proof_submitted"
	StateVerified       = "verified"
	StateCompleted      = "completed"
	StateDisputed       = "disputed"
	StateRefunded       = "refunded"
	StateCancelled      = "cancelled"
)

// Valid state transitions: from -> []to
var ValidTransitions = map[string][]string{
	StatePaid:           {StateProofSubmitted, StateRefunded, StateCancelled, StateDisputed},
	StateProofSubmitted: {StateVerified, StateRefunded, StateCancelled, StateDisputed},
	StateVerified:       {StateCompleted, StateRefunded, StateCancelled, StateDisputed},
	StateDisputed:       {StateRefunded, StateCancelled},
	StateCompleted:      {},
	StateRefunded:       {},
	StateCancelled:      {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state permits no further transitions.
func IsTerminal(state string) bool {
	allowed, ok := ValidTransitions[state]
	return ok && len(allowed) == 0
}

// Purchase is the escrow record for one buyer/seller trade. Created once,
// mutated only through the Engine, never deleted.
type Purchase struct {
	ID               int64      `json:"id"`
	Buyer            string     `json:"buyer"`
	Seller           string     `json:"seller"`
	AmountNano       int64      `json:"amount_nano"`
	ListingID        int64      `json:"listing_id"`
	Description      string     `json:"description"`
	BuyerDeliveryKey string     `json:"buyer_delivery_key"`
	EncryptedSecret  *string    `json:"encrypted_secret,omitempty"`
	DeliveredAssetID *int64     `json:"delivered_asset_id,omitempty"`
	State            string     `json:"state"`
	StateEnteredAt   time.Time  `json:"state_entered_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (p *Purchase) Terminal() bool {
	return IsTerminal(p.State)
}

func (p *Purchase) Completed() bool {
	return p.State == StateCompleted
}

// Timeouts holds the per-state deadline windows. A zero window means the
// state never times out on its own.
type Timeouts struct {
	Paid           time.Duration
	ProofSubmitted time.Duration
	Verified       time.Duration
	Disputed       time.Duration
}

// Window returns the timeout window for a state and whether one applies.
func (t Timeouts) Window(state string) (time.Duration, bool) {
	var w time.Duration
	switch state {
	case StatePaid:
		w = t.Paid
	case StateProofSubmitted:
		w = t.ProofSubmitted
	case StateVerified:
		w = t.Verified
	case StateDisputed:
		w = t.Disputed
	default:
		return 0, false
	}
	return w, w > 0
}

// Deadline computes when the purchase times out in its current state.
func (p *Purchase) Deadline(t Timeouts) (time.Time, bool) {
	w, ok := t.Window(p.State)
	if !ok {
		return time.Time{}, false
	}
	return p.StateEnteredAt.Add(w), true
}

// TimedOut reports whether the per-state deadline has elapsed at now.
func (p *Purchase) TimedOut(t Timeouts, now time.Time) bool {
	deadline, ok := p.Deadline(t)
	return ok && now.After(deadline)
}

// StateInfo is the read-only state projection served to clients.
type StateInfo struct {
	ID             int64      `json:"id"`
	State          string     `json:"state"`
	StateEnteredAt time.Time  `json:"state_entered_at"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	TimedOut       bool       `json:"timed_out"`
	Completed      bool       `json:"completed"`
}

// Listing is the asset issuer's view of an item offered for sale. Read-only
// to the escrow core.
type Listing struct {
	ID          int64  `json:"id"`
	Owner       string `json:"owner"`
	PriceNano   int64  `json:"price_nano"`
	MetadataRef string `json:"metadata_ref"`
	Category    string `json:"category"`
	Active      bool   `json:"active"`
}
