package storefront

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/apperr"
	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/clock"
	"github.com/ariefcatur/go-pickup-slots/internal/events"
	"github.com/ariefcatur/go-pickup-slots/internal/grouping"
	"github.com/ariefcatur/go-pickup-slots/internal/ranking"
	"github.com/ariefcatur/go-pickup-slots/internal/reservation"
	"github.com/ariefcatur/go-pickup-slots/internal/window"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type ProductSource interface {
	FetchProducts(ctx context.Context, from, to catalog.Date, categoryID string) ([]catalog.Product, error)
}

type Publisher interface {
	PublishEnvelope(topic string, env events.Envelope)
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string)
}

// Service is what the UI layer talks to. Publisher and Dedup are optional.
type Service struct {
	Clock        clock.Clock
	Calc         window.Calculator
	Products     ProductSource
	Store        *catalog.Store
	Groups       *grouping.Manager
	Reservations *reservation.Lifecycle
	Publisher    Publisher
	Dedup        Deduper
	ServiceName  string
	Log          *zap.Logger

	refreshes singleflight.Group
	mu        sync.Mutex
	covered   [2]catalog.Date // horizon range of the last successful refresh
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Refresh replaces products and categories with the boundary's current view
// of the horizon. Drafts are re-clamped against the new stock.
func (s *Service) Refresh(ctx context.Context) error {
	horizon := s.Calc.Horizon(s.Clock.Now())
	if len(horizon) == 0 {
		return apperr.Invalid("horizon", "empty")
	}

	var products []catalog.Product
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ps, err := s.Products.FetchProducts(gctx, horizon[0], horizon[len(horizon)-1], "")
		if err != nil {
			return apperr.Boundary("fetch products", err)
		}
		products = ps
		return nil
	})
	g.Go(func() error { return s.Groups.Refresh(gctx) })
	if err := g.Wait(); err != nil {
		s.logger().Warn("refresh failed", zap.Error(err))
		return err
	}

	s.Store.Dispatch(catalog.Refreshed{Products: products})
	s.Reservations.ClampDrafts()
	s.mu.Lock()
	s.covered = span(horizon)
	s.mu.Unlock()
	s.logger().Info("catalog refreshed",
		zap.Int("products", len(products)),
		zap.String("from", horizon[0].String()),
		zap.String("to", horizon[len(horizon)-1].String()))
	return nil
}

// current refreshes when the horizon has moved off the range the products
// were fetched for, at the order cutoff or at midnight. Concurrent callers
// share one refresh.
func (s *Service) current(ctx context.Context) error {
	want := span(s.Calc.Horizon(s.Clock.Now()))
	s.mu.Lock()
	have := s.covered
	s.mu.Unlock()
	if have == want {
		return nil
	}
	_, err, _ := s.refreshes.Do("refresh", func() (any, error) {
		return nil, s.Refresh(ctx)
	})
	return err
}

func span(horizon []catalog.Date) [2]catalog.Date {
	if len(horizon) == 0 {
		return [2]catalog.Date{}
	}
	return [2]catalog.Date{horizon[0], horizon[len(horizon)-1]}
}

// Run keeps the product list on the current horizon and forgets settled
// reservations, once per interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.current(ctx) // Refresh logs its own failure
			if n := s.Reservations.Prune(s.Clock.Now()); n > 0 {
				s.logger().Debug("pruned settled reservations", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops acting on boundary responses that are still in flight.
func (s *Service) Close() { s.Reservations.Close() }

type DaySummary struct {
	Date     catalog.Date `json:"date"`
	Products int          `json:"products"`
	Open     int          `json:"open"`
}

type HorizonView struct {
	Now  time.Time    `json:"now"`
	Days []DaySummary `json:"days"`
}

func (s *Service) Horizon(ctx context.Context) (HorizonView, error) {
	if err := s.current(ctx); err != nil {
		return HorizonView{}, err
	}
	now := s.Clock.Now()
	buckets := s.Calc.Buckets(s.Store.Products(), now)
	days := make([]DaySummary, 0, len(buckets))
	for _, b := range buckets {
		d := DaySummary{Date: b.Date, Products: len(b.Products)}
		for _, p := range b.Products {
			if s.Calc.IsOpen(p, now) {
				d.Open++
			}
		}
		days = append(days, d)
	}
	return HorizonView{Now: now, Days: days}, nil
}

type ListQuery struct {
	Date     catalog.Date // zero means the first horizon date
	Term     string
	Category string // category id or catalog.RecommendedID
}

type Listed struct {
	Product   catalog.Product `json:"product"`
	State     window.State    `json:"state"`
	OpensAt   *time.Time      `json:"opens_at,omitempty"`
	Countdown string          `json:"countdown,omitempty"`
	Draft     int             `json:"draft"`
}

// Listing returns the ranked products for one pickup date.
func (s *Service) Listing(ctx context.Context, q ListQuery) ([]Listed, error) {
	if err := s.current(ctx); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	if q.Date.IsZero() {
		q.Date = s.Calc.Horizon(now)[0]
	}
	products := s.Store.Products()

	rq := ranking.Query{Date: q.Date, Term: q.Term}
	if q.Category != "" {
		g, err := s.Groups.Lookup(q.Category)
		if err != nil {
			return nil, err
		}
		members, err := s.Groups.Members(ctx, g)
		if err != nil {
			return nil, err
		}
		rq.Group, rq.Members = g, members
	}

	entries := ranking.Rank(products, rq, now, s.Calc)
	out := make([]Listed, 0, len(entries))
	for _, e := range entries {
		l := Listed{
			Product: e.Product,
			State:   e.Status.State,
			Draft:   s.Reservations.Draft(ctx, e.Product.ID),
		}
		if !e.Status.OpensAt.IsZero() {
			at := e.Status.OpensAt
			l.OpensAt = &at
		}
		if e.Status.State == window.StatePendingOpen {
			l.Countdown = window.FormatCountdown(e.Status.Countdown)
		}
		out = append(out, l)
	}
	return out, nil
}

const (
	DraftIncrement = "inc"
	DraftDecrement = "dec"
	DraftSet       = "set"
)

// AdjustDraft applies op and returns the clamped quantity.
func (s *Service) AdjustDraft(ctx context.Context, productID, op string, qty int) (int, error) {
	if err := s.current(ctx); err != nil {
		return 0, err
	}
	switch op {
	case DraftIncrement:
		return s.Reservations.Increment(ctx, productID)
	case DraftDecrement:
		return s.Reservations.Decrement(ctx, productID)
	case DraftSet:
		return s.Reservations.SetDraft(ctx, productID, qty)
	default:
		return 0, apperr.Invalid("op", "must be inc, dec or set")
	}
}

// Reserve submits a reservation. A nil quantity takes the current draft.
func (s *Service) Reserve(ctx context.Context, productID string, qty *int, pickup catalog.Date) (reservation.Reservation, error) {
	if err := s.current(ctx); err != nil {
		return reservation.Reservation{}, err
	}
	q := s.Reservations.Draft(ctx, productID)
	if qty != nil {
		q = *qty
	}
	r, err := s.Reservations.Submit(ctx, productID, q, pickup)
	if err != nil {
		return r, err
	}
	s.publish(ctx, events.TopicReservationCreated, events.EventReservationCreated, r.ID,
		events.ReservationCreatedPayload{
			ReservationID: r.ID,
			AccountID:     r.AccountID,
			ProductID:     r.ProductID,
			Quantity:      r.Quantity,
			PickupDate:    r.PickupDate,
			AmountCents:   r.AmountCents,
		})
	return r, nil
}

type ReservationView struct {
	reservation.Reservation
	Deadline time.Time `json:"deadline"`
	Locked   bool      `json:"locked"`
}

func (s *Service) view(r reservation.Reservation) ReservationView {
	return ReservationView{
		Reservation: r,
		Deadline:    s.Reservations.Deadline(r),
		Locked:      s.Reservations.Locked(r, s.Clock.Now()),
	}
}

func (s *Service) Reservation(ctx context.Context, id string) (ReservationView, error) {
	r, err := s.Reservations.Get(ctx, id)
	if err != nil {
		return ReservationView{}, err
	}
	return s.view(r), nil
}

func (s *Service) Options(ctx context.Context, id string) (reservation.Options, error) {
	return s.Reservations.Options(ctx, id)
}

func (s *Service) ChooseSelfPickup(ctx context.Context, id string) (ReservationView, error) {
	return s.chosen(ctx, s.Reservations.ChooseSelfPickup, id)
}

func (s *Service) ChooseDelivery(ctx context.Context, id string) (ReservationView, error) {
	return s.chosen(ctx, s.Reservations.ChooseDelivery, id)
}

func (s *Service) chosen(ctx context.Context, choose func(context.Context, string) (reservation.Reservation, error), id string) (ReservationView, error) {
	r, err := choose(ctx, id)
	if err != nil {
		return ReservationView{}, err
	}
	s.publish(ctx, events.TopicFulfillmentChosen, events.EventFulfillmentChosen, r.ID,
		events.FulfillmentChosenPayload{ReservationID: r.ID, Choice: string(r.Choice)})
	return s.view(r), nil
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	r, err := s.Reservations.Cancel(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, events.TopicReservationCancelled, events.EventReservationCancelled, r.ID,
		events.ReservationCancelledPayload{ReservationID: r.ID, ProductID: r.ProductID, Quantity: r.Quantity})
	return nil
}

// ---- groupings ----

type GroupingView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OrderIndex  *int   `json:"order_index,omitempty"`
	Recommended bool   `json:"recommended,omitempty"`
}

func (s *Service) Groupings() []GroupingView {
	gs := s.Groups.Groupings()
	out := make([]GroupingView, 0, len(gs))
	for _, g := range gs {
		switch g := g.(type) {
		case catalog.Recommended:
			out = append(out, GroupingView{ID: g.GroupingID(), Name: g.GroupingID(), Recommended: true})
		case catalog.Category:
			idx := g.OrderIndex
			out = append(out, GroupingView{ID: g.ID, Name: g.Name, OrderIndex: &idx})
		}
	}
	return out
}

func (s *Service) CreateCategory(ctx context.Context, name string) (catalog.Category, error) {
	c, err := s.Groups.Create(ctx, name)
	if err != nil {
		return c, err
	}
	s.categoryChanged(ctx, events.CategoryChangedPayload{CategoryID: c.ID, Action: "created", Name: c.Name})
	return c, nil
}

func (s *Service) RenameCategory(ctx context.Context, id, name string) (catalog.Category, error) {
	c, err := s.Groups.Rename(ctx, id, name)
	if err != nil {
		return c, err
	}
	s.categoryChanged(ctx, events.CategoryChangedPayload{CategoryID: c.ID, Action: "renamed", Name: c.Name})
	return c, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.Groups.Delete(ctx, id); err != nil {
		return err
	}
	s.categoryChanged(ctx, events.CategoryChangedPayload{CategoryID: id, Action: "deleted"})
	return nil
}

func (s *Service) ReorderCategories(ctx context.Context, ids []string) error {
	if err := s.Groups.Reorder(ctx, ids); err != nil {
		return err
	}
	s.reordered(ctx)
	return nil
}

func (s *Service) MoveCategory(ctx context.Context, id string, to int) error {
	if err := s.Groups.Move(ctx, id, to); err != nil {
		return err
	}
	s.reordered(ctx)
	return nil
}

func (s *Service) reordered(ctx context.Context) {
	cats := s.Groups.Categories()
	order := make([]string, 0, len(cats))
	for _, c := range cats {
		order = append(order, c.ID)
	}
	s.categoryChanged(ctx, events.CategoryChangedPayload{Action: "reordered", Order: order})
}

// Members lists the product ids of a category or of the recommended set.
func (s *Service) Members(ctx context.Context, groupingID string) ([]string, error) {
	g, err := s.Groups.Lookup(groupingID)
	if err != nil {
		return nil, err
	}
	set, err := s.Groups.Members(ctx, g)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

// ReplaceMembers sets the full membership. For the recommended set the
// local products are flipped once the boundary accepted every change;
// products outside the horizon only change at the boundary.
func (s *Service) ReplaceMembers(ctx context.Context, groupingID string, productIDs []string) (grouping.Change, error) {
	g, err := s.Groups.Lookup(groupingID)
	if err != nil {
		return grouping.Change{}, err
	}
	change, err := s.Groups.ReplaceMembers(ctx, g, productIDs)
	if err != nil {
		return change, err
	}
	if _, ok := g.(catalog.Recommended); ok {
		evs := make([]catalog.Event, 0, len(change.Added)+len(change.Removed))
		for _, id := range change.Added {
			evs = append(evs, catalog.RecommendedChanged{ProductID: id, Recommended: true})
		}
		for _, id := range change.Removed {
			evs = append(evs, catalog.RecommendedChanged{ProductID: id, Recommended: false})
		}
		s.Store.Dispatch(evs...)
	}
	if !change.Empty() {
		s.categoryChanged(ctx, events.CategoryChangedPayload{
			CategoryID: g.GroupingID(),
			Action:     "members",
			Added:      change.Added,
			Removed:    change.Removed,
		})
	}
	return change, nil
}

func (s *Service) categoryChanged(ctx context.Context, p events.CategoryChangedPayload) {
	key := p.CategoryID
	if key == "" {
		key = "categories"
	}
	s.publish(ctx, events.TopicCategoryChanged, events.EventCategoryChanged, key, p)
}

func (s *Service) publish(ctx context.Context, topic, eventType, correlationID string, payload any) {
	if s.Publisher == nil {
		return
	}
	env, err := events.New(eventType, s.ServiceName, correlationID, s.Clock.Now(), payload)
	if err != nil {
		s.logger().Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env.TraceID = events.TraceFromContext(ctx)
	s.Publisher.PublishEnvelope(topic, env)
}
