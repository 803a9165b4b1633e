package reservation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/apperr"
	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/clock"
	"github.com/ariefcatur/go-pickup-slots/internal/window"
	"go.uber.org/zap"
)

type Config struct {
	Calc window.Calculator
	// ModificationCutoff is the time of day on the pickup date after which
	// a reservation is locked.
	ModificationCutoff catalog.TimeOfDay
}

// Lifecycle drives drafts, submission and fulfillment for reservations.
// Steps of one attempt run in order: validate, submit, commit stock, prompt.
type Lifecycle struct {
	boundary Boundary
	stock    Stock
	clock    clock.Clock
	guard    Guard
	cfg      Config
	log      *zap.Logger

	mu           sync.Mutex
	drafts       map[draftKey]int
	reservations map[string]*Reservation
	eligible     map[string]bool
	closed       bool
}

func NewLifecycle(b Boundary, stock Stock, clk clock.Clock, guard Guard, cfg Config, log *zap.Logger) *Lifecycle {
	if guard == nil {
		guard = NewLocalGuard()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Lifecycle{
		boundary:     b,
		stock:        stock,
		clock:        clk,
		guard:        guard,
		cfg:          cfg,
		log:          log,
		drafts:       map[draftKey]int{},
		reservations: map[string]*Reservation{},
		eligible:     map[string]bool{},
	}
}

// Close makes the lifecycle drop responses that arrive afterwards.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Lifecycle) Draft(ctx context.Context, productID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drafts[draftKey{AccountFromContext(ctx), productID}]
}

func (l *Lifecycle) Increment(ctx context.Context, productID string) (int, error) {
	return l.adjustDraft(ctx, productID, func(q int) int { return q + 1 })
}

func (l *Lifecycle) Decrement(ctx context.Context, productID string) (int, error) {
	return l.adjustDraft(ctx, productID, func(q int) int { return q - 1 })
}

func (l *Lifecycle) SetDraft(ctx context.Context, productID string, qty int) (int, error) {
	return l.adjustDraft(ctx, productID, func(int) int { return qty })
}

func (l *Lifecycle) adjustDraft(ctx context.Context, productID string, fn func(int) int) (int, error) {
	p, ok := l.stock.Product(productID)
	if !ok {
		return 0, apperr.ErrNotFound
	}
	key := draftKey{AccountFromContext(ctx), productID}
	l.mu.Lock()
	defer l.mu.Unlock()
	q := Clamp(fn(l.drafts[key]), p.Stock)
	l.drafts[key] = q
	return q, nil
}

// ClampDrafts re-bounds every draft after the product set was replaced.
func (l *Lifecycle) ClampDrafts() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, q := range l.drafts {
		p, ok := l.stock.Product(k.productID)
		if !ok {
			delete(l.drafts, k)
			continue
		}
		l.drafts[k] = Clamp(q, p.Stock)
	}
}

// Submit validates locally, then sends one request to the boundary. While a
// submit for the same account and product is pending, further calls return
// ErrSubmitInFlight without contacting the boundary.
func (l *Lifecycle) Submit(ctx context.Context, productID string, qty int, pickup catalog.Date) (Reservation, error) {
	if l.isClosed() {
		return Reservation{}, apperr.ErrClosed
	}
	account := AccountFromContext(ctx)
	p, ok := l.stock.Product(productID)
	if !ok {
		return Reservation{}, apperr.ErrNotFound
	}
	if err := l.validate(p, qty, pickup); err != nil {
		return Reservation{}, err
	}

	key := submitKey(account, productID)
	acquired, err := l.guard.TryAcquire(ctx, key)
	if err != nil {
		return Reservation{}, apperr.Boundary("acquire submit guard", err)
	}
	if !acquired {
		l.log.Info("reservation submit ignored, one already in flight", zap.String("product_id", productID))
		return Reservation{}, apperr.ErrSubmitInFlight
	}
	defer l.guard.Release(context.WithoutCancel(ctx), key)

	req := Request{
		ProductID:   productID,
		Quantity:    qty,
		PickupDate:  pickup,
		AmountCents: int64(qty) * p.PriceCents,
	}
	id, err := l.boundary.SubmitReservation(ctx, req)
	if err != nil {
		l.log.Warn("submit reservation failed", zap.String("product_id", productID), zap.Error(err))
		return Reservation{}, apperr.Boundary("submit reservation", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.log.Warn("discarding late reservation response", zap.String("reservation_id", id))
		return Reservation{}, apperr.ErrClosed
	}
	l.stock.Dispatch(catalog.StockReserved{ProductID: productID, Qty: qty})
	r := &Reservation{
		Request:   req,
		ID:        id,
		AccountID: account,
		Choice:    ChoiceNone,
		Status:    PickupPending,
	}
	l.reservations[id] = r
	delete(l.drafts, draftKey{account, productID})
	l.log.Info("reservation committed",
		zap.String("reservation_id", id),
		zap.String("product_id", productID),
		zap.Int("quantity", qty))
	return *r, nil
}

func (l *Lifecycle) validate(p catalog.Product, qty int, pickup catalog.Date) error {
	if qty < 1 {
		return apperr.Invalid("quantity", "must be at least 1")
	}
	if qty > p.Stock {
		return apperr.Invalid("quantity", "exceeds remaining stock")
	}
	now := l.clock.Now()
	if !l.cfg.Calc.InHorizon(pickup, now) {
		return apperr.Invalid("pickup_date", "not an open pickup date")
	}
	if !l.cfg.Calc.IsOpen(p, now) {
		return apperr.ErrNotOrderable
	}
	return nil
}

// Deadline is the instant after which r can no longer change.
func (l *Lifecycle) Deadline(r Reservation) time.Time {
	loc := l.cfg.Calc.Loc
	if loc == nil {
		loc = time.UTC
	}
	return r.PickupDate.At(l.cfg.ModificationCutoff, loc)
}

func (l *Lifecycle) Locked(r Reservation, now time.Time) bool {
	return r.Status == PickupPickedUp || !now.Before(l.Deadline(r))
}

// Get returns a known reservation, loading it from the boundary on a miss.
func (l *Lifecycle) Get(ctx context.Context, id string) (Reservation, error) {
	return l.lookup(ctx, id)
}

func (l *Lifecycle) lookup(ctx context.Context, id string) (Reservation, error) {
	account := AccountFromContext(ctx)
	l.mu.Lock()
	r, ok := l.reservations[id]
	if ok {
		v := *r
		l.mu.Unlock()
		if v.AccountID != account {
			return Reservation{}, apperr.ErrNotFound
		}
		return v, nil
	}
	l.mu.Unlock()

	fetched, err := l.boundary.FetchReservation(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Reservation{}, apperr.ErrNotFound
		}
		return Reservation{}, apperr.Boundary("fetch reservation", err)
	}
	if fetched.AccountID != account {
		return Reservation{}, apperr.ErrNotFound
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.reservations[id]; ok {
		return *existing, nil
	}
	l.reservations[id] = &fetched
	return fetched, nil
}

// Options answers which fulfillment paths the prompt may offer.
func (l *Lifecycle) Options(ctx context.Context, id string) (Options, error) {
	r, err := l.lookup(ctx, id)
	if err != nil {
		return Options{}, err
	}
	if l.Locked(r, l.clock.Now()) {
		return Options{Locked: true, Choice: r.Choice}, nil
	}
	if r.Choice != ChoiceNone {
		return Options{Choice: r.Choice}, nil
	}

	eligible, err := l.globalEligibility(ctx, true)
	if err != nil {
		return Options{}, err
	}
	cfg, err := l.boundary.FetchDeliveryConfig(ctx)
	if err != nil {
		return Options{}, apperr.Boundary("fetch delivery config", err)
	}
	p, _ := l.stock.Product(r.ProductID)

	return Options{
		Choice:                 ChoiceNone,
		SelfPickup:             eligible && p.SelfPickupEligible,
		Delivery:               deliveryAllowed(cfg, p, r),
		DeliveryMinAmountCents: cfg.MinAmountCents,
	}, nil
}

func deliveryAllowed(cfg DeliveryConfig, p catalog.Product, r Reservation) bool {
	return cfg.Enabled && p.DeliveryEligible && r.AmountCents >= cfg.MinAmountCents
}

// globalEligibility uses the last answer for the account unless refresh is set.
func (l *Lifecycle) globalEligibility(ctx context.Context, refresh bool) (bool, error) {
	account := AccountFromContext(ctx)
	if !refresh {
		l.mu.Lock()
		v, ok := l.eligible[account]
		l.mu.Unlock()
		if ok {
			return v, nil
		}
	}
	v, err := l.boundary.CheckSelfPickupEligibility(ctx)
	if err != nil {
		return false, apperr.Boundary("check self-pickup eligibility", err)
	}
	l.mu.Lock()
	l.eligible[account] = v
	l.mu.Unlock()
	return v, nil
}

// ChooseSelfPickup submits self-pickup. Ineligible attempts are rejected
// before any mutation request is made.
func (l *Lifecycle) ChooseSelfPickup(ctx context.Context, id string) (Reservation, error) {
	return l.choose(ctx, id, ChoiceSelfPickup, func(r Reservation) error {
		eligible, err := l.globalEligibility(ctx, false)
		if err != nil {
			return err
		}
		p, ok := l.stock.Product(r.ProductID)
		if !eligible || !ok || !p.SelfPickupEligible {
			return apperr.ErrEligibilityDenied
		}
		return nil
	}, l.boundary.SubmitSelfPickup)
}

func (l *Lifecycle) ChooseDelivery(ctx context.Context, id string) (Reservation, error) {
	return l.choose(ctx, id, ChoiceDelivery, func(r Reservation) error {
		cfg, err := l.boundary.FetchDeliveryConfig(ctx)
		if err != nil {
			return apperr.Boundary("fetch delivery config", err)
		}
		p, _ := l.stock.Product(r.ProductID)
		if !deliveryAllowed(cfg, p, r) {
			return apperr.ErrEligibilityDenied
		}
		return nil
	}, l.boundary.SubmitDelivery)
}

func (l *Lifecycle) choose(ctx context.Context, id string, to Choice, check func(Reservation) error, submit func(context.Context, string) error) (Reservation, error) {
	if l.isClosed() {
		return Reservation{}, apperr.ErrClosed
	}
	r, err := l.lookup(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if l.Locked(r, l.clock.Now()) {
		return Reservation{}, apperr.ErrLocked
	}
	if !CanChoose(r.Choice, to) {
		return Reservation{}, apperr.ErrAlreadyChosen
	}
	if err := check(r); err != nil {
		return Reservation{}, err
	}

	key := fulfilKey(id)
	acquired, err := l.guard.TryAcquire(ctx, key)
	if err != nil {
		return Reservation{}, apperr.Boundary("acquire fulfillment guard", err)
	}
	if !acquired {
		return Reservation{}, apperr.ErrSubmitInFlight
	}
	defer l.guard.Release(context.WithoutCancel(ctx), key)

	// Another call may have committed a choice between lookup and acquire.
	l.mu.Lock()
	held, ok := l.reservations[id]
	open := ok && CanChoose(held.Choice, to)
	l.mu.Unlock()
	if !ok {
		return Reservation{}, apperr.ErrNotFound
	}
	if !open {
		return Reservation{}, apperr.ErrAlreadyChosen
	}

	if err := submit(ctx, id); err != nil {
		l.log.Warn("submit fulfillment failed",
			zap.String("reservation_id", id), zap.String("choice", string(to)), zap.Error(err))
		return Reservation{}, apperr.Boundary("submit fulfillment", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.log.Warn("discarding late fulfillment response", zap.String("reservation_id", id))
		return Reservation{}, apperr.ErrClosed
	}
	cur, ok := l.reservations[id]
	if !ok {
		return Reservation{}, apperr.ErrNotFound
	}
	cur.Choice = to
	return *cur, nil
}

// Cancel withdraws a reservation that is still modifiable and gives its
// quantity back to local stock.
func (l *Lifecycle) Cancel(ctx context.Context, id string) (Reservation, error) {
	if l.isClosed() {
		return Reservation{}, apperr.ErrClosed
	}
	r, err := l.lookup(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if l.Locked(r, l.clock.Now()) {
		return Reservation{}, apperr.ErrLocked
	}

	key := fulfilKey(id)
	acquired, err := l.guard.TryAcquire(ctx, key)
	if err != nil {
		return Reservation{}, apperr.Boundary("acquire fulfillment guard", err)
	}
	if !acquired {
		return Reservation{}, apperr.ErrSubmitInFlight
	}
	defer l.guard.Release(context.WithoutCancel(ctx), key)

	if err := l.boundary.CancelReservation(ctx, id); err != nil {
		return Reservation{}, apperr.Boundary("cancel reservation", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.log.Warn("discarding late cancel response", zap.String("reservation_id", id))
		return Reservation{}, apperr.ErrClosed
	}
	delete(l.reservations, id)
	l.stock.Dispatch(catalog.StockReleased{ProductID: r.ProductID, Qty: r.Quantity})
	return r, nil
}

// MarkPickedUp records the boundary's terminal status. It reports whether
// the reservation was known locally.
func (l *Lifecycle) MarkPickedUp(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return false
	}
	r.Status = PickupPickedUp
	return true
}

// Prune forgets reservations that can no longer change at now: picked up
// or past their modification deadline. A later Get reloads them from the
// boundary. It returns the number of entries removed.
func (l *Lifecycle) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, r := range l.reservations {
		if l.Locked(*r, now) {
			delete(l.reservations, id)
			n++
		}
	}
	return n
}

func (l *Lifecycle) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
