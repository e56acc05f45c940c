package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"kittycore/internal/genetics"
	"kittycore/internal/infra/persistence/memory"
	"kittycore/internal/ledger"
	"kittycore/pkg/domain"
)

func TestCreateCreateBreedScenario(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 100_000)

	first := mustCreate(t, svc, at(alice, 0))
	second := mustCreate(t, svc, at(alice, 1))
	child, _, err := svc.Breed(ctx, at(alice, 2), first.ID, second.ID)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}

	if first.ID != 0 || second.ID != 1 || child.ID != 2 {
		t.Fatalf("expected ids 0, 1, 2, got %d, %d, %d", first.ID, second.ID, child.ID)
	}
	if got := book.ReservedBalance(alice); got != 30_000 {
		t.Fatalf("expected 30000 reserved, got %d", got)
	}
	if got := book.FreeBalance(alice); got != 70_000 {
		t.Fatalf("expected 70000 free, got %d", got)
	}

	parents, err := svc.Parents(ctx, child.ID)
	if err != nil {
		t.Fatalf("parents: %v", err)
	}
	if parents == nil || *parents != [2]KittyID{0, 1} {
		t.Fatalf("expected parents [0 1], got %v", parents)
	}
	for _, id := range []KittyID{0, 1} {
		children, err := svc.Children(ctx, id)
		if err != nil {
			t.Fatalf("children of %d: %v", id, err)
		}
		if diff := cmp.Diff([]KittyID{2}, children); diff != "" {
			t.Fatalf("children of %d mismatch (-want +got):\n%s", id, diff)
		}
	}
	partners0, _ := svc.Partners(ctx, 0)
	partners1, _ := svc.Partners(ctx, 1)
	if diff := cmp.Diff([]KittyID{1}, partners0); diff != "" {
		t.Fatalf("partners of 0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]KittyID{0}, partners1); diff != "" {
		t.Fatalf("partners of 1 mismatch (-want +got):\n%s", diff)
	}

	owned, err := svc.KittiesOf(ctx, alice)
	if err != nil {
		t.Fatalf("kitties of: %v", err)
	}
	if diff := cmp.Diff([]KittyID{0, 1, 2}, owned); diff != "" {
		t.Fatalf("owned mismatch (-want +got):\n%s", diff)
	}

	selector := genetics.DeriveSeed(fixedRandomness{1, 2, 3, 4, 5, 6, 7, 8}, alice, 2)
	if want := genetics.Crossover(first.DNA, second.DNA, selector); child.DNA != want {
		t.Fatalf("expected child dna %s, got %s", want, child.DNA)
	}
	if first.DNA == second.DNA {
		t.Fatal("expected distinct dna for calls at different indexes")
	}

	events := svc.Events(0, 0)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Kind != domain.EventCreated || ev.Owner != alice || ev.KittyID != KittyID(i) || ev.Deposit != DefaultDeposit {
			t.Fatalf("unexpected event %d: %+v", i, ev)
		}
		if ev.Seq != uint64(i+1) || ev.Block != 1 || ev.CallIndex != uint32(i) {
			t.Fatalf("unexpected event position %d: %+v", i, ev)
		}
	}
}

func TestCreateInsufficientCollateralLeavesNoTrace(t *testing.T) {
	svc, book := newTestService(t)
	book.SetFree(alice, 5_000)

	_, _, err := svc.Create(context.Background(), at(alice, 0))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if len(svc.Store().ListKitties()) != 0 {
		t.Fatal("expected no kitty stored")
	}
	if len(svc.Events(0, 0)) != 0 {
		t.Fatal("expected no events")
	}
	if got := book.Account(alice); got != (ledger.Account{Free: 5_000}) {
		t.Fatalf("expected untouched balance, got %+v", got)
	}
}

func TestCreateOverflowLeavesNoTrace(t *testing.T) {
	store := NewMemoryStore(NewDefaultRulesEngine())
	store.ImportState(memory.Snapshot{Allocator: domain.KittyAllocator{Last: math.MaxUint32, Issued: true}})
	book := ledger.New()
	book.SetFree(alice, 100_000)
	svc := NewService(store, book, fixedRandomness{})

	_, _, err := svc.Create(context.Background(), at(alice, 0))
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if got := book.ReservedBalance(alice); got != 0 {
		t.Fatalf("expected nothing reserved, got %d", got)
	}
	if len(svc.Events(0, 0)) != 0 {
		t.Fatal("expected no events")
	}
}

func TestBreedOverflowLeavesParentsUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(NewDefaultRulesEngine())
	book := ledger.New()
	book.SetFree(alice, 100_000)
	svc := NewService(store, book, fixedRandomness{1})
	a := mustCreate(t, svc, at(alice, 0))
	b := mustCreate(t, svc, at(alice, 1))

	state := store.ExportState()
	state.Allocator = domain.KittyAllocator{Last: math.MaxUint32, Issued: true}
	store.ImportState(state)
	before := book.Account(alice)

	if _, _, err := svc.Breed(ctx, at(alice, 2), a.ID, b.ID); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if got := book.Account(alice); got != before || got.Reserved != 20_000 {
		t.Fatalf("expected balances %+v untouched, got %+v", before, got)
	}
	for _, id := range []KittyID{a.ID, b.ID} {
		children, err := svc.Children(ctx, id)
		if err != nil || len(children) != 0 {
			t.Fatalf("kitty %d: expected no children, got %v (%v)", id, children, err)
		}
		partners, err := svc.Partners(ctx, id)
		if err != nil || len(partners) != 0 {
			t.Fatalf("kitty %d: expected no partners, got %v (%v)", id, partners, err)
		}
	}
	owned, err := svc.KittiesOf(ctx, alice)
	if err != nil || len(owned) != 2 {
		t.Fatalf("expected two kitties, got %v (%v)", owned, err)
	}
	if events := svc.Events(0, 0); len(events) != 2 {
		t.Fatalf("expected only the two create events, got %d", len(events))
	}
}

func TestNextKittyIDTracksAllocator(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(NewDefaultRulesEngine())
	book := newFundedLedger(alice, 100_000)
	svc := NewService(store, book, fixedRandomness{})

	if next, err := svc.NextKittyID(ctx); err != nil || next != 0 {
		t.Fatalf("fresh registry: next=%d err=%v", next, err)
	}
	mustCreate(t, svc, at(alice, 0))
	if next, err := svc.NextKittyID(ctx); err != nil || next != 1 {
		t.Fatalf("after create: next=%d err=%v", next, err)
	}

	state := store.ExportState()
	state.Allocator = domain.KittyAllocator{Last: math.MaxUint32, Issued: true}
	store.ImportState(state)
	if _, err := svc.NextKittyID(ctx); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestCreateUsesConfiguredDeposit(t *testing.T) {
	svc, book := newTestService(t, WithDeposit(2_500))
	book.SetFree(alice, 10_000)

	kitty := mustCreate(t, svc, at(alice, 0))
	if kitty.Deposit != 2_500 {
		t.Fatalf("expected deposit 2500, got %d", kitty.Deposit)
	}
	if svc.Deposit() != 2_500 {
		t.Fatalf("expected service deposit 2500, got %d", svc.Deposit())
	}
	if got := book.ReservedBalance(alice); got != 2_500 {
		t.Fatalf("expected 2500 reserved, got %d", got)
	}
}

func TestTransferMovesOwnershipAndCollateral(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 100_000)
	book.SetFree(bob, 20_000)
	kitty := mustCreate(t, svc, at(alice, 0))

	ownership, _, err := svc.Transfer(ctx, at(alice, 1), bob, kitty.ID)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ownership != (Ownership{KittyID: kitty.ID, Owner: bob}) {
		t.Fatalf("unexpected ownership %+v", ownership)
	}
	if owner, ok := svc.OwnerOf(kitty.ID); !ok || owner != bob {
		t.Fatalf("expected bob to own kitty, got %q", owner)
	}
	if got := book.Account(alice); got != (ledger.Account{Free: 100_000}) {
		t.Fatalf("expected alice fully released, got %+v", got)
	}
	if got := book.Account(bob); got != (ledger.Account{Free: 10_000, Reserved: 10_000}) {
		t.Fatalf("expected bob to hold the deposit, got %+v", got)
	}
	aliceOwned, _ := svc.KittiesOf(ctx, alice)
	bobOwned, _ := svc.KittiesOf(ctx, bob)
	if len(aliceOwned) != 0 {
		t.Fatalf("expected alice to own nothing, got %v", aliceOwned)
	}
	if diff := cmp.Diff([]KittyID{kitty.ID}, bobOwned); diff != "" {
		t.Fatalf("bob owned mismatch (-want +got):\n%s", diff)
	}

	events := svc.Events(1, 0)
	want := []Event{{Seq: 2, Kind: domain.EventTransferred, Owner: alice, Recipient: bob, KittyID: kitty.ID, Deposit: DefaultDeposit, Block: 1, CallIndex: 1}}
	if diff := cmp.Diff(want, events, cmpIgnoreRecordedAt); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestTransferUsesRecordedDeposit(t *testing.T) {
	store := NewMemoryStore(NewDefaultRulesEngine())
	book := ledger.New()
	book.SetFree(alice, 100_000)
	book.SetFree(bob, 100_000)
	early := NewService(store, book, fixedRandomness{}, WithDeposit(1_000))
	kitty := mustCreate(t, early, at(alice, 0))

	later := NewService(store, book, fixedRandomness{}, WithDeposit(50_000))
	if _, _, err := later.Transfer(context.Background(), at(alice, 1), bob, kitty.ID); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := book.ReservedBalance(bob); got != 1_000 {
		t.Fatalf("expected recorded deposit 1000 moved, got %d", got)
	}
	if got := book.ReservedBalance(alice); got != 0 {
		t.Fatalf("expected alice released, got %d", got)
	}
}

func TestTransferToSelfIsNoop(t *testing.T) {
	svc, book := newTestService(t)
	book.SetFree(alice, 10_000)
	kitty := mustCreate(t, svc, at(alice, 0))

	ownership, _, err := svc.Transfer(context.Background(), at(alice, 1), alice, kitty.ID)
	if err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if ownership.Owner != alice {
		t.Fatalf("expected alice to keep kitty, got %q", ownership.Owner)
	}
	if got := book.Account(alice); got != (ledger.Account{Reserved: 10_000}) {
		t.Fatalf("expected balance unchanged, got %+v", got)
	}
	if got := len(svc.Events(0, 0)); got != 1 {
		t.Fatalf("expected only the created event, got %d", got)
	}
}

func TestTransferRejectsInvalidIDs(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 10_000)
	book.SetFree(bob, 10_000)
	kitty := mustCreate(t, svc, at(alice, 0))

	cases := []struct {
		name   string
		origin Origin
		to     AccountID
		id     KittyID
	}{
		{name: "unknown id", origin: at(alice, 1), to: bob, id: 7},
		{name: "not owner", origin: at(bob, 1), to: bob, id: kitty.ID},
		{name: "not owner to self", origin: at(bob, 1), to: alice, id: kitty.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Transfer(ctx, tc.origin, tc.to, tc.id); !errors.Is(err, ErrInvalidID) {
				t.Fatalf("expected invalid id, got %v", err)
			}
		})
	}
	if owner, _ := svc.OwnerOf(kitty.ID); owner != alice {
		t.Fatalf("expected alice to keep kitty, got %q", owner)
	}
}

func TestTransferRecipientWithoutCollateral(t *testing.T) {
	svc, book := newTestService(t)
	book.SetFree(alice, 10_000)
	book.SetFree(bob, 9_999)
	kitty := mustCreate(t, svc, at(alice, 0))

	_, _, err := svc.Transfer(context.Background(), at(alice, 1), bob, kitty.ID)
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if owner, _ := svc.OwnerOf(kitty.ID); owner != alice {
		t.Fatalf("expected alice to keep kitty, got %q", owner)
	}
	if got := book.Account(bob); got != (ledger.Account{Free: 9_999}) {
		t.Fatalf("expected bob untouched, got %+v", got)
	}
	if got := book.ReservedBalance(alice); got != 10_000 {
		t.Fatalf("expected alice deposit kept, got %d", got)
	}
}

func TestBreedRejections(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 30_000)
	book.SetFree(bob, 10_000)
	a := mustCreate(t, svc, at(alice, 0))
	b := mustCreate(t, svc, at(alice, 1))
	foreign := mustCreate(t, svc, at(bob, 2))

	cases := []struct {
		name string
		a, b KittyID
		want error
	}{
		{name: "duplicate parent", a: a.ID, b: a.ID, want: ErrDuplicateParent},
		{name: "unknown first", a: 42, b: b.ID, want: ErrInvalidID},
		{name: "unknown second", a: a.ID, b: 42, want: ErrInvalidID},
		{name: "foreign parent", a: a.ID, b: foreign.ID, want: ErrInvalidID},
		{name: "unknown duplicate", a: 42, b: 42, want: ErrInvalidID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Breed(ctx, at(alice, 3), tc.a, tc.b); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if got := len(svc.Store().ListKitties()); got != 3 {
		t.Fatalf("expected 3 kitties, got %d", got)
	}
	if got := book.ReservedBalance(alice); got != 20_000 {
		t.Fatalf("expected 20000 reserved, got %d", got)
	}
}

func TestBreedInsufficientCollateral(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 20_000)
	a := mustCreate(t, svc, at(alice, 0))
	b := mustCreate(t, svc, at(alice, 1))

	if _, _, err := svc.Breed(ctx, at(alice, 2), a.ID, b.ID); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	children, err := svc.Children(ctx, a.ID)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no children, got %v", children)
	}
	next, err := nextKittyID(svc)
	if err != nil || next != 2 {
		t.Fatalf("expected id 2 still unallocated, got %d (%v)", next, err)
	}
}

func TestBreedSamePairTwiceKeepsSetsUnique(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 100_000)
	a := mustCreate(t, svc, at(alice, 0))
	b := mustCreate(t, svc, at(alice, 1))
	for i := uint32(2); i < 4; i++ {
		if _, _, err := svc.Breed(ctx, at(alice, i), a.ID, b.ID); err != nil {
			t.Fatalf("breed %d: %v", i, err)
		}
	}

	children, _ := svc.Children(ctx, a.ID)
	if diff := cmp.Diff([]KittyID{2, 3}, children); diff != "" {
		t.Fatalf("children mismatch (-want +got):\n%s", diff)
	}
	partners, _ := svc.Partners(ctx, a.ID)
	if diff := cmp.Diff([]KittyID{b.ID}, partners); diff != "" {
		t.Fatalf("partners mismatch (-want +got):\n%s", diff)
	}
}

func TestBreedReversedOrderRecordsParentOrder(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 100_000)
	a := mustCreate(t, svc, at(alice, 0))
	b := mustCreate(t, svc, at(alice, 1))

	child, _, err := svc.Breed(ctx, at(alice, 2), b.ID, a.ID)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	parents, _ := svc.Parents(ctx, child.ID)
	if parents == nil || *parents != [2]KittyID{b.ID, a.ID} {
		t.Fatalf("expected parents [1 0], got %v", parents)
	}
}

func TestBredKittyCanBreedAndTransfer(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 100_000)
	book.SetFree(bob, 100_000)
	a := mustCreate(t, svc, at(alice, 0))
	b := mustCreate(t, svc, at(alice, 1))
	child, _, err := svc.Breed(ctx, at(alice, 2), a.ID, b.ID)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	grandchild, _, err := svc.Breed(ctx, at(alice, 3), child.ID, a.ID)
	if err != nil {
		t.Fatalf("breed grandchild: %v", err)
	}
	if _, _, err := svc.Transfer(ctx, at(alice, 4), bob, grandchild.ID); err != nil {
		t.Fatalf("transfer grandchild: %v", err)
	}

	partners, _ := svc.Partners(ctx, a.ID)
	if diff := cmp.Diff([]KittyID{b.ID, child.ID}, partners); diff != "" {
		t.Fatalf("partners mismatch (-want +got):\n%s", diff)
	}
	parents, _ := svc.Parents(ctx, grandchild.ID)
	if parents == nil || *parents != [2]KittyID{child.ID, a.ID} {
		t.Fatalf("unexpected grandchild parents %v", parents)
	}
	if got := book.ReservedBalance(bob); got != DefaultDeposit {
		t.Fatalf("expected bob to hold one deposit, got %d", got)
	}
}

func TestReadsRejectUnknownKitty(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Parents(ctx, 9); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected invalid id from parents, got %v", err)
	}
	if _, err := svc.Children(ctx, 9); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected invalid id from children, got %v", err)
	}
	if _, err := svc.Partners(ctx, 9); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected invalid id from partners, got %v", err)
	}
	if _, ok := svc.Kitty(9); ok {
		t.Fatal("expected kitty lookup to miss")
	}
}

func TestFailedCommitHookDiscardsTransaction(t *testing.T) {
	currency := &refusingCurrency{}
	svc := NewInMemoryService(currency, fixedRandomness{})

	_, _, err := svc.Create(context.Background(), at(alice, 0))
	if !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	if len(svc.Store().ListKitties()) != 0 {
		t.Fatal("expected no kitty after failed reservation")
	}
	if len(svc.Events(0, 0)) != 0 {
		t.Fatal("expected no events after failed reservation")
	}
	if len(currency.unreserved) != 0 {
		t.Fatalf("expected no releases, got %v", currency.unreserved)
	}
}

func TestCancelledContextRejectsCall(t *testing.T) {
	svc, book := newTestService(t)
	book.SetFree(alice, 10_000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := svc.Create(ctx, at(alice, 0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if got := book.ReservedBalance(alice); got != 0 {
		t.Fatalf("expected nothing reserved, got %d", got)
	}
}

func TestAuditCollateral(t *testing.T) {
	ctx := context.Background()
	svc, book := newTestService(t)
	book.SetFree(alice, 100_000)
	book.SetFree(bob, 100_000)
	mustCreate(t, svc, at(alice, 0))
	mustCreate(t, svc, at(bob, 1))

	mismatches, err := svc.AuditCollateral(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("expected balanced ledger, got %+v", mismatches)
	}

	book.Unreserve(bob, 4_000)
	mismatches, err = svc.AuditCollateral(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	want := []CollateralMismatch{{Account: bob, Expected: 10_000, Reserved: 6_000}}
	if diff := cmp.Diff(want, mismatches); diff != "" {
		t.Fatalf("mismatches (-want +got):\n%s", diff)
	}
}

func TestAuditCollateralRequiresReservedBalance(t *testing.T) {
	svc := NewInMemoryService(&refusingCurrency{}, fixedRandomness{})
	if _, err := svc.AuditCollateral(context.Background()); !errors.Is(err, ErrReservedBalanceUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestExportState(t *testing.T) {
	svc, book := newTestService(t)
	book.SetFree(alice, 100_000)
	first := mustCreate(t, svc, at(alice, 0))
	second := mustCreate(t, svc, at(alice, 1))
	if _, _, err := svc.Breed(context.Background(), at(alice, 2), first.ID, second.ID); err != nil {
		t.Fatalf("breed: %v", err)
	}

	snap, err := svc.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snap.Kitties) != 3 || len(snap.Events) != 3 || snap.Owners[2] != alice {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, err := NewService(fakePersistentStore{}, book, fixedRandomness{}).ExportState(); !errors.Is(err, ErrExportUnsupported) {
		t.Fatalf("expected unsupported export, got %v", err)
	}
}

func TestServiceRules(t *testing.T) {
	svc, _ := newTestService(t)
	if diff := cmp.Diff([]string{"lineage_integrity", "ownership_integrity"}, svc.Rules()); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
	bare := NewService(fakePersistentStore{}, ledger.New(), fixedRandomness{})
	if bare.Rules() != nil {
		t.Fatal("expected nil rules for stores without an engine")
	}
}

var cmpIgnoreRecordedAt = cmpopts.IgnoreFields(Event{}, "RecordedAt")

func nextKittyID(svc *Service) (KittyID, error) {
	var next KittyID
	err := svc.Store().View(context.Background(), func(view domain.TransactionView) error {
		var err error
		next, err = view.NextKittyID()
		return err
	})
	return next, err
}
