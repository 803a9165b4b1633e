package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/apperr"
	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/clock"
	"github.com/ariefcatur/go-pickup-slots/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockBoundary: a nil XxxFunc falls back to a successful default.
type MockBoundary struct {
	SubmitReservationFunc func(ctx context.Context, req Request) (string, error)
	FetchReservationFunc  func(ctx context.Context, id string) (Reservation, error)
	SubmitSelfPickupFunc  func(ctx context.Context, id string) error
	SubmitDeliveryFunc    func(ctx context.Context, id string) error
	CancelFunc            func(ctx context.Context, id string) error
	EligibilityFunc       func(ctx context.Context) (bool, error)
	DeliveryConfigFunc    func(ctx context.Context) (DeliveryConfig, error)

	submits     atomic.Int32
	selfPickups atomic.Int32
	deliveries  atomic.Int32
	cancels     atomic.Int32
}

func (m *MockBoundary) SubmitReservation(ctx context.Context, req Request) (string, error) {
	n := m.submits.Add(1)
	if m.SubmitReservationFunc != nil {
		return m.SubmitReservationFunc(ctx, req)
	}
	return fmt.Sprintf("r-%d", n), nil
}

func (m *MockBoundary) FetchReservation(ctx context.Context, id string) (Reservation, error) {
	if m.FetchReservationFunc != nil {
		return m.FetchReservationFunc(ctx, id)
	}
	return Reservation{}, apperr.ErrNotFound
}

func (m *MockBoundary) SubmitSelfPickup(ctx context.Context, id string) error {
	m.selfPickups.Add(1)
	if m.SubmitSelfPickupFunc != nil {
		return m.SubmitSelfPickupFunc(ctx, id)
	}
	return nil
}

func (m *MockBoundary) SubmitDelivery(ctx context.Context, id string) error {
	m.deliveries.Add(1)
	if m.SubmitDeliveryFunc != nil {
		return m.SubmitDeliveryFunc(ctx, id)
	}
	return nil
}

func (m *MockBoundary) CancelReservation(ctx context.Context, id string) error {
	m.cancels.Add(1)
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return nil
}

func (m *MockBoundary) CheckSelfPickupEligibility(ctx context.Context) (bool, error) {
	if m.EligibilityFunc != nil {
		return m.EligibilityFunc(ctx)
	}
	return true, nil
}

func (m *MockBoundary) FetchDeliveryConfig(ctx context.Context) (DeliveryConfig, error) {
	if m.DeliveryConfigFunc != nil {
		return m.DeliveryConfigFunc(ctx)
	}
	return DeliveryConfig{Enabled: true, MinAmountCents: 5000}, nil
}

var (
	kst   = time.FixedZone("KST", 9*3600)
	today = catalog.Date{Year: 2026, Month: time.June, Day: 3}
)

type fixture struct {
	b     *MockBoundary
	store *catalog.Store
	now   time.Time
	l     *Lifecycle
	ctx   context.Context
}

func newFixture(t *testing.T, products ...catalog.Product) *fixture {
	t.Helper()
	if len(products) == 0 {
		d := today
		products = []catalog.Product{{
			ID: "p1", Name: "Sourdough", PriceCents: 2500, Stock: 3, SellDate: &d,
			SelfPickupEligible: true, DeliveryEligible: true,
		}}
	}
	f := &fixture{
		b:     &MockBoundary{},
		store: catalog.NewStore(),
		now:   time.Date(2026, time.June, 3, 9, 0, 0, 0, kst),
		ctx:   WithAccount(context.Background(), "acc-1"),
	}
	f.store.Dispatch(catalog.Refreshed{Products: products})
	cfg := Config{
		Calc:               window.Calculator{Loc: kst, Cutoff: catalog.TimeOfDay{Hour: 19, Minute: 30}, Days: 7},
		ModificationCutoff: catalog.TimeOfDay{Hour: 12},
	}
	f.l = NewLifecycle(f.b, f.store, clock.Func(func() time.Time { return f.now }), nil, cfg, nil)
	return f
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, ok := f.store.Product(id)
	require.True(t, ok)
	return p.Stock
}

func TestDraft_ClampIsIdempotent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		_, err := f.l.Increment(f.ctx, "p1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.l.Draft(f.ctx, "p1"))
	q, _ := f.l.Increment(f.ctx, "p1")
	assert.Equal(t, 3, q)

	for i := 0; i < 5; i++ {
		q, _ = f.l.Decrement(f.ctx, "p1")
	}
	assert.Equal(t, 0, q)
	q, _ = f.l.Decrement(f.ctx, "p1")
	assert.Equal(t, 0, q)

	q, _ = f.l.SetDraft(f.ctx, "p1", 42)
	assert.Equal(t, 3, q)

	_, err := f.l.Increment(f.ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDraft_IsPerAccount(t *testing.T) {
	f := newFixture(t)
	_, _ = f.l.Increment(f.ctx, "p1")
	other := WithAccount(context.Background(), "acc-2")
	assert.Equal(t, 0, f.l.Draft(other, "p1"))
}

func TestClampDrafts_AfterRefresh(t *testing.T) {
	f := newFixture(t)
	_, _ = f.l.SetDraft(f.ctx, "p1", 3)
	p, _ := f.store.Product("p1")
	p.Stock = 1
	f.store.Dispatch(catalog.Refreshed{Products: []catalog.Product{p}})

	f.l.ClampDrafts()
	assert.Equal(t, 1, f.l.Draft(f.ctx, "p1"))
}

func TestSubmit_QuantityAboveStockIsRejectedLocally(t *testing.T) {
	f := newFixture(t)

	_, err := f.l.Submit(f.ctx, "p1", 5, today)

	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "quantity", ve.Field)
	assert.Zero(t, f.b.submits.Load())
	assert.Equal(t, 3, f.stock(t, "p1"))
}

func TestSubmit_ZeroQuantity(t *testing.T) {
	f := newFixture(t)
	_, err := f.l.Submit(f.ctx, "p1", 0, today)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.b.submits.Load())
}

func TestSubmit_PickupDateOutsideHorizon(t *testing.T) {
	f := newFixture(t)
	_, err := f.l.Submit(f.ctx, "p1", 1, today.AddDays(-1))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.l.Submit(f.ctx, "p1", 1, today.AddDays(7))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.b.submits.Load())
}

func TestSubmit_PendingOpenIsNotOrderable(t *testing.T) {
	d := today
	f := newFixture(t, catalog.Product{ID: "p1", PriceCents: 100, Stock: 3, SellDate: &d, SellTime: &catalog.TimeOfDay{Hour: 10}})

	_, err := f.l.Submit(f.ctx, "p1", 1, today)
	assert.ErrorIs(t, err, apperr.ErrNotOrderable)

	f.now = time.Date(2026, time.June, 3, 10, 0, 0, 0, kst)
	_, err = f.l.Submit(f.ctx, "p1", 1, today)
	assert.NoError(t, err)
}

func TestSubmit_CommitsLocalStock(t *testing.T) {
	f := newFixture(t)
	var sent Request
	f.b.SubmitReservationFunc = func(_ context.Context, req Request) (string, error) {
		sent = req
		return "r-42", nil
	}
	_, _ = f.l.SetDraft(f.ctx, "p1", 2)

	r, err := f.l.Submit(f.ctx, "p1", 2, today)
	require.NoError(t, err)

	assert.Equal(t, Request{ProductID: "p1", Quantity: 2, PickupDate: today, AmountCents: 5000}, sent)
	assert.Equal(t, "r-42", r.ID)
	assert.Equal(t, "acc-1", r.AccountID)
	assert.Equal(t, ChoiceNone, r.Choice)
	assert.Equal(t, PickupPending, r.Status)
	assert.Equal(t, 1, f.stock(t, "p1"))
	assert.Equal(t, 0, f.l.Draft(f.ctx, "p1"))
}

func TestSubmit_BoundaryFailureKeepsStock(t *testing.T) {
	f := newFixture(t)
	f.b.SubmitReservationFunc = func(context.Context, Request) (string, error) {
		return "", errors.New("500 internal")
	}

	_, err := f.l.Submit(f.ctx, "p1", 2, today)
	assert.ErrorIs(t, err, apperr.ErrBoundary)
	assert.Equal(t, 3, f.stock(t, "p1"))
	assert.Equal(t, int32(1), f.b.submits.Load())
}

func TestSubmit_SecondSubmitWhilePendingIsNoop(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.b.SubmitReservationFunc = func(context.Context, Request) (string, error) {
		close(entered)
		<-release
		return "r-1", nil
	}

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.l.Submit(f.ctx, "p1", 1, today)
	}()
	<-entered

	_, err := f.l.Submit(f.ctx, "p1", 1, today)
	assert.ErrorIs(t, err, apperr.ErrSubmitInFlight)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, int32(1), f.b.submits.Load())
	assert.Equal(t, 2, f.stock(t, "p1"))

	// the guard is released once the first call returns
	f.b.SubmitReservationFunc = nil
	_, err = f.l.Submit(f.ctx, "p1", 1, today)
	assert.NoError(t, err)
}

func TestSubmit_LateResponseAfterCloseIsDiscarded(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.b.SubmitReservationFunc = func(context.Context, Request) (string, error) {
		close(entered)
		<-release
		return "r-1", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.l.Submit(f.ctx, "p1", 2, today)
		done <- err
	}()
	<-entered
	f.l.Close()
	close(release)

	assert.ErrorIs(t, <-done, apperr.ErrClosed)
	assert.Equal(t, 3, f.stock(t, "p1"))
}

func submitted(t *testing.T, f *fixture, qty int) Reservation {
	t.Helper()
	r, err := f.l.Submit(f.ctx, "p1", qty, today)
	require.NoError(t, err)
	return r
}

func TestOptions(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 2) // 5000 cents

	opts, err := f.l.Options(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, Options{Choice: ChoiceNone, SelfPickup: true, Delivery: true, DeliveryMinAmountCents: 5000}, opts)

	f.b.EligibilityFunc = func(context.Context) (bool, error) { return false, nil }
	f.b.DeliveryConfigFunc = func(context.Context) (DeliveryConfig, error) {
		return DeliveryConfig{Enabled: true, MinAmountCents: 6000}, nil
	}
	opts, err = f.l.Options(f.ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, opts.SelfPickup)
	assert.False(t, opts.Delivery)
}

func TestOptions_BoundaryFailure(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 1)
	f.b.DeliveryConfigFunc = func(context.Context) (DeliveryConfig, error) {
		return DeliveryConfig{}, errors.New("timeout")
	}
	_, err := f.l.Options(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrBoundary)
}

func TestChooseSelfPickup(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 1)

	got, err := f.l.ChooseSelfPickup(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ChoiceSelfPickup, got.Choice)

	_, err = f.l.ChooseSelfPickup(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyChosen)
	_, err = f.l.ChooseDelivery(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyChosen)
	assert.Equal(t, int32(1), f.b.selfPickups.Load())
}

func TestChooseSelfPickup_ProductIneligible(t *testing.T) {
	d := today
	f := newFixture(t, catalog.Product{ID: "p1", PriceCents: 100, Stock: 3, SellDate: &d})
	r := submitted(t, f, 1)

	_, err := f.l.ChooseSelfPickup(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrEligibilityDenied)
	assert.Zero(t, f.b.selfPickups.Load())
}

func TestChooseSelfPickup_GloballyIneligible(t *testing.T) {
	f := newFixture(t)
	f.b.EligibilityFunc = func(context.Context) (bool, error) { return false, nil }
	r := submitted(t, f, 1)

	_, err := f.l.ChooseSelfPickup(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrEligibilityDenied)
	assert.Zero(t, f.b.selfPickups.Load())
}

func TestChooseSelfPickup_FailureKeepsChoiceOpen(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 1)
	f.b.SubmitSelfPickupFunc = func(context.Context, string) error { return errors.New("401") }

	_, err := f.l.ChooseSelfPickup(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrBoundary)

	got, err := f.l.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ChoiceNone, got.Choice)
}

func TestChooseDelivery_BelowMinimum(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 1) // 2500 < 5000

	_, err := f.l.ChooseDelivery(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrEligibilityDenied)
	assert.Zero(t, f.b.deliveries.Load())
}

func TestChooseDelivery(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 2) // 5000 cents, exactly the minimum

	got, err := f.l.ChooseDelivery(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ChoiceDelivery, got.Choice)
	assert.Equal(t, int32(1), f.b.deliveries.Load())

	stored, err := f.l.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ChoiceDelivery, stored.Choice)

	_, err = f.l.ChooseSelfPickup(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyChosen)
	assert.Zero(t, f.b.selfPickups.Load())
}

func TestChoose_ChoiceCommittedWhileChecking(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.b.DeliveryConfigFunc = func(context.Context) (DeliveryConfig, error) {
		close(entered)
		<-release
		return DeliveryConfig{Enabled: true, MinAmountCents: 5000}, nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := f.l.ChooseDelivery(f.ctx, r.ID)
		done <- err
	}()

	<-entered
	got, err := f.l.ChooseSelfPickup(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ChoiceSelfPickup, got.Choice)
	close(release)

	assert.ErrorIs(t, <-done, apperr.ErrAlreadyChosen)
	assert.Zero(t, f.b.deliveries.Load())

	stored, err := f.l.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ChoiceSelfPickup, stored.Choice)
}

func TestCancel_AfterCutoffIsLocked(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 2)
	require.Equal(t, 1, f.stock(t, "p1"))

	f.now = time.Date(2026, time.June, 3, 12, 30, 0, 0, kst)
	_, err := f.l.Cancel(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrLocked)
	assert.Zero(t, f.b.cancels.Load())
	assert.Equal(t, 1, f.stock(t, "p1"))

	_, err = f.l.Get(f.ctx, r.ID)
	assert.NoError(t, err)
}

func TestPrune_DropsSettledReservations(t *testing.T) {
	f := newFixture(t)
	picked := submitted(t, f, 1)
	pending := submitted(t, f, 1)
	require.True(t, f.l.MarkPickedUp(picked.ID))

	assert.Equal(t, 1, f.l.Prune(f.now))
	_, err := f.l.Get(f.ctx, picked.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.l.Get(f.ctx, pending.ID)
	require.NoError(t, err)

	deadline := time.Date(2026, time.June, 3, 12, 0, 0, 0, kst)
	assert.Zero(t, f.l.Prune(deadline.Add(-time.Minute)))
	assert.Equal(t, 1, f.l.Prune(deadline))
	assert.False(t, f.l.MarkPickedUp(pending.ID))
}

func TestModificationCutoffLocks(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 1)

	f.now = time.Date(2026, time.June, 3, 12, 0, 0, 0, kst)
	assert.True(t, f.l.Locked(r, f.now))

	_, err := f.l.ChooseSelfPickup(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrLocked)
	_, err = f.l.Cancel(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrLocked)
	assert.Zero(t, f.b.selfPickups.Load()+f.b.cancels.Load())

	opts, err := f.l.Options(f.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, opts.Locked)
	assert.False(t, opts.SelfPickup)
}

func TestPickedUpIsTerminal(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 1)

	assert.True(t, f.l.MarkPickedUp(r.ID))
	assert.False(t, f.l.MarkPickedUp("unknown"))

	_, err := f.l.ChooseSelfPickup(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrLocked)
}

func TestCancel_RestoresStock(t *testing.T) {
	f := newFixture(t)
	r := submitted(t, f, 2)
	require.Equal(t, 1, f.stock(t, "p1"))

	_, err := f.l.Cancel(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, "p1"))

	_, err = f.l.Get(f.ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGet_LoadsFromBoundaryAndChecksOwner(t *testing.T) {
	f := newFixture(t)
	f.b.FetchReservationFunc = func(_ context.Context, id string) (Reservation, error) {
		return Reservation{
			ID:        id,
			AccountID: "acc-1",
			Request:   Request{ProductID: "p1", Quantity: 1, PickupDate: today, AmountCents: 2500},
			Choice:    ChoiceNone,
			Status:    PickupPending,
		}, nil
	}

	r, err := f.l.Get(f.ctx, "r-9")
	require.NoError(t, err)
	assert.Equal(t, "p1", r.ProductID)

	_, err = f.l.Get(WithAccount(context.Background(), "acc-2"), "r-9")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCanChoose(t *testing.T) {
	assert.True(t, CanChoose(ChoiceNone, ChoiceSelfPickup))
	assert.True(t, CanChoose(ChoiceNone, ChoiceDelivery))
	assert.False(t, CanChoose(ChoiceSelfPickup, ChoiceDelivery))
	assert.False(t, CanChoose(ChoiceDelivery, ChoiceDelivery))
}

func TestLocalGuard(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()
	ok, _ := g.TryAcquire(ctx, "k")
	assert.True(t, ok)
	ok, _ = g.TryAcquire(ctx, "k")
	assert.False(t, ok)
	g.Release(ctx, "k")
	ok, _ = g.TryAcquire(ctx, "k")
	assert.True(t, ok)
}
