package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zkdrop/backend/internal/events"
	"go.uber.org/zap"
)

// memLedger is an in-memory Ledger for engine tests. WithinTx snapshots all
// state before running the callback and restores it on error, matching the
// all-or-nothing behavior of the database implementation.
type memLedger struct {
	nextID    int64
	purchases map[int64]*Purchase
	accounts  map[string]int64
	custody   int64
}

func newMemLedger() *memLedger {
	return &memLedger{
		purchases: make(map[int64]*Purchase),
		accounts:  make(map[string]int64),
	}
}

func (l *memLedger) snapshot() *memLedger {
	s := &memLedger{
		nextID:    l.nextID,
		purchases: make(map[int64]*Purchase, len(l.purchases)),
		accounts:  make(map[string]int64, len(l.accounts)),
		custody:   l.custody,
	}
	for id, p := range l.purchases {
		cp := *p
		s.purchases[id] = &cp
	}
	for a, b := range l.accounts {
		s.accounts[a] = b
	}
	return s
}

func (l *memLedger) restore(s *memLedger) {
	l.nextID = s.nextID
	l.purchases = s.purchases
	l.accounts = s.accounts
	l.custody = s.custody
}

func (l *memLedger) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	snap := l.snapshot()
	if err := fn(&memTx{l: l}); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

func (l *memLedger) GetPurchase(ctx context.Context, id int64) (*Purchase, error) {
	p, ok := l.purchases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *memLedger) CustodyBalance(ctx context.Context) (int64, error) {
	return l.custody, nil
}

type memTx struct {
	l *memLedger
}

func (t *memTx) InsertPurchase(ctx context.Context, p *Purchase) error {
	t.l.nextID++
	p.ID = t.l.nextID
	p.CreatedAt = p.StateEnteredAt
	p.UpdatedAt = p.StateEnteredAt
	cp := *p
	t.l.purchases[p.ID] = &cp
	return nil
}

func (t *memTx) GetPurchaseForUpdate(ctx context.Context, id int64) (*Purchase, error) {
	p, ok := t.l.purchases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) SetState(ctx context.Context, id int64, state string, enteredAt time.Time) error {
	p, ok := t.l.purchases[id]
	if !ok {
		return ErrNotFound
	}
	p.State = state
	p.StateEnteredAt = enteredAt
	p.UpdatedAt = enteredAt
	return nil
}

func (t *memTx) SetEncryptedSecret(ctx context.Context, id int64, blob string) error {
	p, ok := t.l.purchases[id]
	if !ok {
		return ErrNotFound
	}
	p.EncryptedSecret = &blob
	return nil
}

func (t *memTx) SetDeliveredAsset(ctx context.Context, id int64, assetID int64) error {
	p, ok := t.l.purchases[id]
	if !ok {
		return ErrNotFound
	}
	p.DeliveredAssetID = &assetID
	return nil
}

func (t *memTx) CreditAccount(ctx context.Context, address string, amountNano int64) error {
	t.l.accounts[address] += amountNano
	return nil
}

func (t *memTx) DebitAccount(ctx context.Context, address string, amountNano int64) error {
	if t.l.accounts[address] < amountNano {
		return ErrInsufficientFunds
	}
	t.l.accounts[address] -= amountNano
	return nil
}

func (t *memTx) CreditCustody(ctx context.Context, amountNano int64) error {
	t.l.custody += amountNano
	return nil
}

func (t *memTx) DebitCustody(ctx context.Context, amountNano int64) error {
	if t.l.custody < amountNano {
		return ErrInsufficientFunds
	}
	t.l.custody -= amountNano
	return nil
}

type fakeVerifier struct {
	ok    bool
	err   error
	calls int
}

func (v *fakeVerifier) Verify(ctx context.Context, proof, publicParams []byte) (bool, error) {
	v.calls++
	return v.ok, v.err
}

type fakeIssuer struct {
	listings    map[int64]*Listing
	nextAssetID int64
	mintErr     error
	deactivated []int64
}

func (i *fakeIssuer) GetListing(ctx context.Context, listingID int64) (*Listing, error) {
	l, ok := i.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("listing %d not found", listingID)
	}
	cp := *l
	return &cp, nil
}

func (i *fakeIssuer) MintDelivered(ctx context.Context, buyer string, listingID int64, metadataRef string) (int64, error) {
	if i.mintErr != nil {
		return 0, i.mintErr
	}
	i.nextAssetID++
	return i.nextAssetID, nil
}

func (i *fakeIssuer) Deactivate(ctx context.Context, listingID int64) error {
	i.deactivated = append(i.deactivated, listingID)
	return nil
}

type fakeRoles struct {
	operators map[string]bool
	admins    map[string]bool
}

func (r *fakeRoles) IsOperator(ctx context.Context, address string) (bool, error) {
	return r.operators[address] || r.admins[address], nil
}

func (r *fakeRoles) IsAdmin(ctx context.Context, address string) (bool, error) {
	return r.admins[address], nil
}

type capturePublisher struct {
	events []events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) types() []string {
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

const (
	buyer    = "0:buyer00000000000000000000000000000000000000000000000000000000000"
	seller   = "0:seller0000000000000000000000000000000000000000000000000000000000"
	operator = "0:operator00000000000000000000000000000000000000000000000000000000"
	admin    = "0:admin00000000000000000000000000000000000000000000000000000000000"

	priceNano = int64(5_000_000_000)
	listingID = int64(7)
)

type testEnv struct {
	engine    *Engine
	ledger    *memLedger
	verifier  *fakeVerifier
	issuer    *fakeIssuer
	publisher *capturePublisher
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ledger := newMemLedger()
	ledger.accounts[buyer] = 10_000_000_000

	verifier := &fakeVerifier{ok: true}
	issuer := &fakeIssuer{
		listings: map[int64]*Listing{
			listingID: {ID: listingID, Owner: seller, PriceNano: priceNano, MetadataRef: "ipfs://meta", Active: true},
		},
	}
	roles := &fakeRoles{
		operators: map[string]bool{operator: true},
		admins:    map[string]bool{admin: true},
	}
	publisher := &capturePublisher{}

	timeouts := Timeouts{
		Paid:           24 * time.Hour,
		ProofSubmitted: 24 * time.Hour,
		Verified:       24 * time.Hour,
		Disputed:       7 * 24 * time.Hour,
	}

	env := &testEnv{
		engine:    NewEngine(ledger, verifier, issuer, roles, nil, publisher, timeouts, zap.NewNop()),
		ledger:    ledger,
		verifier:  verifier,
		issuer:    issuer,
		publisher: publisher,
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.engine.SetNowFunc(func() time.Time { return env.now })
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func (e *testEnv) createPurchase(t *testing.T) *Purchase {
	t.Helper()
	p, err := e.engine.CreatePurchase(context.Background(), buyer, CreatePurchaseInput{
		Seller:      seller,
		ListingID:   listingID,
		Description: "weather dataset, 2025, EU",
		DeliveryKey: "pubkey-blob",
		AmountNano:  priceNano,
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	return p
}

// checkConservation asserts custody equals the sum of amounts over all
// non-terminal purchases.
func (e *testEnv) checkConservation(t *testing.T) {
	t.Helper()
	var active int64
	for _, p := range e.ledger.purchases {
		if !p.Terminal() {
			active += p.AmountNano
		}
	}
	if e.ledger.custody != active {
		t.Fatalf("custody = %d, active purchase sum = %d", e.ledger.custody, active)
	}
}

func TestCreatePurchase(t *testing.T) {
	env := newTestEnv(t)

	p := env.createPurchase(t)

	if p.ID == 0 {
		t.Error("expected assigned id")
	}
	if p.State != StatePaid {
		t.Errorf("state = %q, want %q", p.State, StatePaid)
	}
	if env.ledger.accounts[buyer] != 10_000_000_000-priceNano {
		t.Errorf("buyer balance = %d, want %d", env.ledger.accounts[buyer], 10_000_000_000-priceNano)
	}
	if env.ledger.custody != priceNano {
		t.Errorf("custody = %d, want %d", env.ledger.custody, priceNano)
	}
	env.checkConservation(t)

	types := env.publisher.types()
	if len(types) != 1 || types[0] != events.EventPurchaseCreated {
		t.Errorf("events = %v, want [%s]", types, events.EventPurchaseCreated)
	}

	// IDs must be monotonic.
	p2 := env.createPurchase(t)
	if p2.ID <= p.ID {
		t.Errorf("second purchase id %d not greater than first %d", p2.ID, p.ID)
	}
}

func TestCreatePurchaseValidation(t *testing.T) {
	ctx := context.Background()

	valid := func() CreatePurchaseInput {
		return CreatePurchaseInput{
			Seller:      seller,
			ListingID:   listingID,
			Description: "desc",
			AmountNano:  priceNano,
		}
	}

	tests := []struct {
		name    string
		buyer   string
		mutate  func(*testEnv, *CreatePurchaseInput)
		wantErr error
	}{
		{"empty seller", buyer, func(e *testEnv, in *CreatePurchaseInput) { in.Seller = "" }, ErrInvalidParty},
		{"self purchase", seller, func(e *testEnv, in *CreatePurchaseInput) {}, ErrInvalidParty},
		{"empty buyer", "", func(e *testEnv, in *CreatePurchaseInput) {}, ErrInvalidParty},
		{"empty description", buyer, func(e *testEnv, in *CreatePurchaseInput) { in.Description = "" }, ErrInvalidDescription},
		{"zero amount", buyer, func(e *testEnv, in *CreatePurchaseInput) { in.AmountNano = 0 }, ErrInvalidAmount},
		{"negative amount", buyer, func(e *testEnv, in *CreatePurchaseInput) { in.AmountNano = -5 }, ErrInvalidAmount},
		{"price mismatch", buyer, func(e *testEnv, in *CreatePurchaseInput) { in.AmountNano = priceNano + 1 }, ErrInvalidAmount},
		{"inactive listing", buyer, func(e *testEnv, in *CreatePurchaseInput) {
			e.issuer.listings[listingID].Active = false
		}, ErrListingUnavailable},
		{"listing owned by someone else", buyer, func(e *testEnv, in *CreatePurchaseInput) {
			e.issuer.listings[listingID].Owner = "0:other"
		}, ErrListingUnavailable},
		{"insufficient funds", buyer, func(e *testEnv, in *CreatePurchaseInput) {
			e.ledger.accounts[buyer] = priceNano - 1
		}, ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			in := valid()
			tt.mutate(env, &in)

			_, err := env.engine.CreatePurchase(ctx, tt.buyer, in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if env.ledger.custody != 0 {
				t.Errorf("custody = %d after failed create, want 0", env.ledger.custody)
			}
		})
	}
}

func TestSubmitProof(t *testing.T) {
	ctx := context.Background()
	proof := []byte(`{"pi":"..."}`)

	t.Run("accepted", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		got, err := env.engine.SubmitProof(ctx, seller, p.ID, proof, nil)
		if err != nil {
			t.Fatalf("SubmitProof: %v", err)
		}
		if got.State != StateProofSubmitted {
			t.Errorf("state = %q, want %q", got.State, StateProofSubmitted)
		}
		if env.verifier.calls != 1 {
			t.Errorf("verifier calls = %d, want 1", env.verifier.calls)
		}
		env.checkConservation(t)
	})

	t.Run("rejected leaves state untouched", func(t *testing.T) {
		env := newTestEnv(t)
		env.verifier.ok = false
		p := env.createPurchase(t)

		_, err := env.engine.SubmitProof(ctx, seller, p.ID, proof, nil)
		if !errors.Is(err, ErrProofRejected) {
			t.Fatalf("err = %v, want %v", err, ErrProofRejected)
		}

		stored, _ := env.ledger.GetPurchase(ctx, p.ID)
		if stored.State != StatePaid {
			t.Errorf("state = %q after rejection, want %q", stored.State, StatePaid)
		}
	})

	t.Run("verifier failure is not a rejection", func(t *testing.T) {
		env := newTestEnv(t)
		env.verifier.err = errors.New("connection refused")
		p := env.createPurchase(t)

		_, err := env.engine.SubmitProof(ctx, seller, p.ID, proof, nil)
		if !errors.Is(err, ErrCollaboratorFailure) {
			t.Fatalf("err = %v, want %v", err, ErrCollaboratorFailure)
		}
	})

	t.Run("only the seller may submit", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		for _, caller := range []string{buyer, operator, "0:stranger"} {
			if _, err := env.engine.SubmitProof(ctx, caller, p.ID, proof, nil); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("caller %s: err = %v, want %v", caller, err, ErrUnauthorized)
			}
		}
	})

	t.Run("wrong state", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, proof, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, proof, nil); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("resubmit err = %v, want %v", err, ErrInvalidState)
		}
	})

	t.Run("unknown purchase", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.engine.SubmitProof(ctx, seller, 404, proof, nil); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want %v", err, ErrNotFound)
		}
	})
}

func TestConfirmVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("operator confirms", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, []byte("{}"), nil); err != nil {
			t.Fatal(err)
		}

		got, err := env.engine.ConfirmVerification(ctx, operator, p.ID)
		if err != nil {
			t.Fatalf("ConfirmVerification: %v", err)
		}
		if got.State != StateVerified {
			t.Errorf("state = %q, want %q", got.State, StateVerified)
		}
	})

	t.Run("non-operator rejected", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, []byte("{}"), nil); err != nil {
			t.Fatal(err)
		}

		for _, caller := range []string{buyer, seller, "0:stranger"} {
			if _, err := env.engine.ConfirmVerification(ctx, caller, p.ID); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("caller %s: err = %v, want %v", caller, err, ErrUnauthorized)
			}
		}
	})

	t.Run("requires proof_submitted", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		if _, err := env.engine.ConfirmVerification(ctx, operator, p.ID); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("err = %v, want %v", err, ErrInvalidState)
		}
	})
}

func TestDeliverSecret(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the blob after proof submission", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, []byte("{}"), nil); err != nil {
			t.Fatal(err)
		}

		got, err := env.engine.DeliverSecret(ctx, seller, p.ID, "enc(key)")
		if err != nil {
			t.Fatalf("DeliverSecret: %v", err)
		}
		if got.EncryptedSecret == nil || *got.EncryptedSecret != "enc(key)" {
			t.Errorf("encrypted secret not stored: %v", got.EncryptedSecret)
		}
		if got.State != StateProofSubmitted {
			t.Errorf("secret delivery must not change state, got %q", got.State)
		}
	})

	t.Run("rejected before proof submission", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		if _, err := env.engine.DeliverSecret(ctx, seller, p.ID, "enc(key)"); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("err = %v, want %v", err, ErrInvalidState)
		}
	})

	t.Run("seller only", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, []byte("{}"), nil); err != nil {
			t.Fatal(err)
		}

		if _, err := env.engine.DeliverSecret(ctx, buyer, p.ID, "enc(key)"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want %v", err, ErrUnauthorized)
		}
	})
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()

	verifiedPurchase := func(t *testing.T, env *testEnv) *Purchase {
		t.Helper()
		p := env.createPurchase(t)
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, []byte("{}"), nil); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.ConfirmVerification(ctx, operator, p.ID); err != nil {
			t.Fatal(err)
		}
		return p
	}

	t.Run("settles atomically", func(t *testing.T) {
		env := newTestEnv(t)
		p := verifiedPurchase(t, env)

		got, err := env.engine.Deliver(ctx, seller, p.ID, "ipfs://delivered")
		if err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if got.State != StateCompleted {
			t.Errorf("state = %q, want %q", got.State, StateCompleted)
		}
		if got.DeliveredAssetID == nil || *got.DeliveredAssetID == 0 {
			t.Error("expected delivered asset id")
		}
		if env.ledger.accounts[seller] != priceNano {
			t.Errorf("seller balance = %d, want %d", env.ledger.accounts[seller], priceNano)
		}
		if env.ledger.custody != 0 {
			t.Errorf("custody = %d after settlement, want 0", env.ledger.custody)
		}
		if len(env.issuer.deactivated) != 1 || env.issuer.deactivated[0] != listingID {
			t.Errorf("listing not deactivated: %v", env.issuer.deactivated)
		}
		env.checkConservation(t)
	})

	t.Run("issuer failure rolls everything back", func(t *testing.T) {
		env := newTestEnv(t)
		p := verifiedPurchase(t, env)
		env.issuer.mintErr = errors.New("issuer down")

		_, err := env.engine.Deliver(ctx, seller, p.ID, "")
		if !errors.Is(err, ErrCollaboratorFailure) {
			t.Fatalf("err = %v, want %v", err, ErrCollaboratorFailure)
		}

		stored, _ := env.ledger.GetPurchase(ctx, p.ID)
		if stored.State != StateVerified {
			t.Errorf("state = %q after failed delivery, want %q", stored.State, StateVerified)
		}
		if env.ledger.accounts[seller] != 0 {
			t.Errorf("seller balance = %d after rollback, want 0", env.ledger.accounts[seller])
		}
		if env.ledger.custody != priceNano {
			t.Errorf("custody = %d after rollback, want %d", env.ledger.custody, priceNano)
		}

		// Retry succeeds once the issuer recovers.
		env.issuer.mintErr = nil
		if _, err := env.engine.Deliver(ctx, seller, p.ID, ""); err != nil {
			t.Fatalf("retry after issuer recovery: %v", err)
		}
		env.checkConservation(t)
	})

	t.Run("requires verified state", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		if _, err := env.engine.Deliver(ctx, seller, p.ID, ""); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("err = %v, want %v", err, ErrInvalidState)
		}
	})

	t.Run("seller only", func(t *testing.T) {
		env := newTestEnv(t)
		p := verifiedPurchase(t, env)

		if _, err := env.engine.Deliver(ctx, buyer, p.ID, ""); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want %v", err, ErrUnauthorized)
		}
	})
}

func TestRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("buyer refunds from any open state", func(t *testing.T) {
		for _, setup := range []struct {
			name string
			prep func(*testing.T, *testEnv, int64)
		}{
			{"paid", func(t *testing.T, env *testEnv, id int64) {}},
			{"proof_submitted", func(t *testing.T, env *testEnv, id int64) {
				if _, err := env.engine.SubmitProof(ctx, seller, id, []byte("{}"), nil); err != nil {
					t.Fatal(err)
				}
			}},
			{"verified", func(t *testing.T, env *testEnv, id int64) {
				if _, err := env.engine.SubmitProof(ctx, seller, id, []byte("{}"), nil); err != nil {
					t.Fatal(err)
				}
				if _, err := env.engine.ConfirmVerification(ctx, operator, id); err != nil {
					t.Fatal(err)
				}
			}},
		} {
			t.Run(setup.name, func(t *testing.T) {
				env := newTestEnv(t)
				p := env.createPurchase(t)
				setup.prep(t, env, p.ID)

				before := env.ledger.accounts[buyer]
				got, err := env.engine.Refund(ctx, buyer, p.ID)
				if err != nil {
					t.Fatalf("Refund: %v", err)
				}
				if got.State != StateRefunded {
					t.Errorf("state = %q, want %q", got.State, StateRefunded)
				}
				if env.ledger.accounts[buyer] != before+priceNano {
					t.Errorf("buyer balance = %d, want %d", env.ledger.accounts[buyer], before+priceNano)
				}
				env.checkConservation(t)
			})
		}
	})

	t.Run("buyer only", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		if _, err := env.engine.Refund(ctx, seller, p.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want %v", err, ErrUnauthorized)
		}
	})

	t.Run("terminal states absorb", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.Refund(ctx, buyer, p.ID); err != nil {
			t.Fatal(err)
		}

		if _, err := env.engine.Refund(ctx, buyer, p.ID); !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("second refund err = %v, want %v", err, ErrAlreadyTerminal)
		}
		if env.ledger.accounts[buyer] != 10_000_000_000 {
			t.Errorf("double refund changed balances: %d", env.ledger.accounts[buyer])
		}
	})
}

func TestSweepTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("before deadline", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		env.advance(23 * time.Hour)

		if _, err := env.engine.SweepTimeout(ctx, "0:anyone", p.ID); !errors.Is(err, ErrNotTimedOut) {
			t.Fatalf("err = %v, want %v", err, ErrNotTimedOut)
		}
	})

	t.Run("after deadline anyone sweeps", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		env.advance(25 * time.Hour)

		got, err := env.engine.SweepTimeout(ctx, "0:anyone", p.ID)
		if err != nil {
			t.Fatalf("SweepTimeout: %v", err)
		}
		if got.State != StateRefunded {
			t.Errorf("state = %q, want %q", got.State, StateRefunded)
		}
		if env.ledger.accounts[buyer] != 10_000_000_000 {
			t.Errorf("buyer balance = %d, want full refund", env.ledger.accounts[buyer])
		}
		env.checkConservation(t)

		// A sweep announces both the timeout and the resulting refund.
		types := env.publisher.types()
		if len(types) < 2 ||
			types[len(types)-2] != events.EventPurchaseTimedOut ||
			types[len(types)-1] != events.EventRefundIssued {
			t.Errorf("events = %v, want trailing [%s %s]", types, events.EventPurchaseTimedOut, events.EventRefundIssued)
		}
	})

	t.Run("deadline resets per state", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		env.advance(20 * time.Hour)

		// Entering proof_submitted restarts the clock.
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, []byte("{}"), nil); err != nil {
			t.Fatal(err)
		}
		env.advance(20 * time.Hour)

		if _, err := env.engine.SweepTimeout(ctx, "0:anyone", p.ID); !errors.Is(err, ErrNotTimedOut) {
			t.Fatalf("err = %v, want %v", err, ErrNotTimedOut)
		}

		env.advance(5 * time.Hour)
		if _, err := env.engine.SweepTimeout(ctx, "0:anyone", p.ID); err != nil {
			t.Fatalf("sweep after proof deadline: %v", err)
		}
	})

	t.Run("refund and sweep race has one winner", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		env.advance(25 * time.Hour)

		if _, err := env.engine.Refund(ctx, buyer, p.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.SweepTimeout(ctx, "0:anyone", p.ID); !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("sweep after refund err = %v, want %v", err, ErrAlreadyTerminal)
		}
		if env.ledger.accounts[buyer] != 10_000_000_000 {
			t.Errorf("funds paid out twice: buyer balance = %d", env.ledger.accounts[buyer])
		}
	})
}

func TestDisputeLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("admin disputes and resolves with refund", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		got, err := env.engine.Dispute(ctx, admin, p.ID)
		if err != nil {
			t.Fatalf("Dispute: %v", err)
		}
		if got.State != StateDisputed {
			t.Errorf("state = %q, want %q", got.State, StateDisputed)
		}
		// Funds stay in custody while disputed.
		if env.ledger.custody != priceNano {
			t.Errorf("custody = %d while disputed, want %d", env.ledger.custody, priceNano)
		}

		resolved, err := env.engine.Resolve(ctx, admin, p.ID, "refund")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if resolved.State != StateRefunded {
			t.Errorf("state = %q, want %q", resolved.State, StateRefunded)
		}
		if env.ledger.accounts[buyer] != 10_000_000_000 {
			t.Errorf("buyer balance = %d, want full refund", env.ledger.accounts[buyer])
		}
		env.checkConservation(t)
	})

	t.Run("resolve with cancel", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.Dispute(ctx, admin, p.ID); err != nil {
			t.Fatal(err)
		}

		resolved, err := env.engine.Resolve(ctx, admin, p.ID, "cancel")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if resolved.State != StateCancelled {
			t.Errorf("state = %q, want %q", resolved.State, StateCancelled)
		}
		env.checkConservation(t)
	})

	t.Run("invalid outcome", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.Dispute(ctx, admin, p.ID); err != nil {
			t.Fatal(err)
		}

		if _, err := env.engine.Resolve(ctx, admin, p.ID, "split"); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("err = %v, want %v", err, ErrInvalidState)
		}
	})

	t.Run("resolve requires disputed state", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		if _, err := env.engine.Resolve(ctx, admin, p.ID, "refund"); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("err = %v, want %v", err, ErrInvalidState)
		}
	})

	t.Run("admin only", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		for _, caller := range []string{buyer, seller, operator} {
			if _, err := env.engine.Dispute(ctx, caller, p.ID); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("dispute by %s: err = %v, want %v", caller, err, ErrUnauthorized)
			}
		}
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("admin cancels and buyer is made whole", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		got, err := env.engine.Cancel(ctx, admin, p.ID)
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if got.State != StateCancelled {
			t.Errorf("state = %q, want %q", got.State, StateCancelled)
		}
		if env.ledger.accounts[buyer] != 10_000_000_000 {
			t.Errorf("buyer balance = %d, want full return", env.ledger.accounts[buyer])
		}
		env.checkConservation(t)
	})

	t.Run("admin only", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)

		if _, err := env.engine.Cancel(ctx, operator, p.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v, want %v", err, ErrUnauthorized)
		}
	})

	t.Run("completed purchase cannot be cancelled", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.createPurchase(t)
		if _, err := env.engine.SubmitProof(ctx, seller, p.ID, []byte("{}"), nil); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.ConfirmVerification(ctx, operator, p.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.Deliver(ctx, seller, p.ID, ""); err != nil {
			t.Fatal(err)
		}

		if _, err := env.engine.Cancel(ctx, admin, p.ID); !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("err = %v, want %v", err, ErrAlreadyTerminal)
		}
	})
}

func TestGetState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.createPurchase(t)

	info, err := env.engine.GetState(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if info.State != StatePaid || info.TimedOut || info.Completed {
		t.Errorf("unexpected state info: %+v", info)
	}
	if info.Deadline == nil {
		t.Fatal("expected a deadline in paid state")
	}
	if want := env.now.Add(24 * time.Hour); !info.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", info.Deadline, want)
	}

	env.advance(25 * time.Hour)
	info, err = env.engine.GetState(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !info.TimedOut {
		t.Error("expected timed_out after the deadline")
	}
}

func TestFullLifecycleConservation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Two purchases in flight, one settles, one refunds.
	p1 := env.createPurchase(t)
	p2 := env.createPurchase(t)
	env.checkConservation(t)

	if _, err := env.engine.SubmitProof(ctx, seller, p1.ID, []byte("{}"), nil); err != nil {
		t.Fatal(err)
	}
	env.checkConservation(t)

	if _, err := env.engine.ConfirmVerification(ctx, operator, p1.ID); err != nil {
		t.Fatal(err)
	}
	env.checkConservation(t)

	if _, err := env.engine.Deliver(ctx, seller, p1.ID, ""); err != nil {
		t.Fatal(err)
	}
	env.checkConservation(t)

	if _, err := env.engine.Refund(ctx, buyer, p2.ID); err != nil {
		t.Fatal(err)
	}
	env.checkConservation(t)

	if env.ledger.custody != 0 {
		t.Errorf("custody = %d after all purchases closed, want 0", env.ledger.custody)
	}
	if env.ledger.accounts[seller] != priceNano {
		t.Errorf("seller balance = %d, want %d", env.ledger.accounts[seller], priceNano)
	}
	if env.ledger.accounts[buyer] != 10_000_000_000-priceNano {
		t.Errorf("buyer balance = %d, want %d", env.ledger.accounts[buyer], 10_000_000_000-priceNano)
	}
}
