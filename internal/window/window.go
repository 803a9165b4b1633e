package window

import (
	"fmt"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
)

type State int

const (
	StateOpen State = iota
	StatePendingOpen
	StateSoldOut
)

var stateNames = map[State]string{
	StateOpen:        "open",
	StatePendingOpen: "pending_open",
	StateSoldOut:     "sold_out",
}

func (s State) String() string { return stateNames[s] }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is the per-product availability at one instant.
type Status struct {
	State     State
	OpensAt   time.Time     // zero when the product has no sell date
	Countdown time.Duration // whole minutes until OpensAt, only for StatePendingOpen
}

// ComputeHorizon returns days consecutive dates starting today, or tomorrow
// once the time of day of now has reached cutoff. now must already be in the
// store's location.
func ComputeHorizon(now time.Time, cutoff catalog.TimeOfDay, days int) []catalog.Date {
	start := catalog.DateOf(now)
	if catalog.SinceMidnight(now) >= cutoff.Offset() {
		start = start.AddDays(1)
	}
	out := make([]catalog.Date, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, start.AddDays(i))
	}
	return out
}

// Calculator binds the horizon and open-state rules to one store's settings.
type Calculator struct {
	Loc    *time.Location
	Cutoff catalog.TimeOfDay
	Days   int
}

func (c Calculator) loc() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

func (c Calculator) Horizon(now time.Time) []catalog.Date {
	return ComputeHorizon(now.In(c.loc()), c.Cutoff, c.Days)
}

func (c Calculator) InHorizon(d catalog.Date, now time.Time) bool {
	for _, h := range c.Horizon(now) {
		if h == d {
			return true
		}
	}
	return false
}

// OpensAt is sellDate+sellTime, or midnight of sellDate without a sell time.
func (c Calculator) OpensAt(p catalog.Product) (time.Time, bool) {
	if p.SellDate == nil {
		return time.Time{}, false
	}
	if p.SellTime == nil {
		return p.SellDate.In(c.loc()), true
	}
	return p.SellDate.At(*p.SellTime, c.loc()), true
}

// Evaluate reports sold out ahead of not-yet-open. A sell date in the past
// does not close a product that still has stock.
func (c Calculator) Evaluate(p catalog.Product, now time.Time) Status {
	opensAt, scheduled := c.OpensAt(p)
	st := Status{State: StateOpen, OpensAt: opensAt}
	switch {
	case p.Stock <= 0:
		st.State = StateSoldOut
	case scheduled && now.Before(opensAt):
		st.State = StatePendingOpen
		st.Countdown = opensAt.Sub(now).Truncate(time.Minute)
	}
	return st
}

func (c Calculator) IsOpen(p catalog.Product, now time.Time) bool {
	return c.Evaluate(p, now).State == StateOpen
}

// Bucket groups the products sold on one horizon date.
type Bucket struct {
	Date     catalog.Date
	Products []catalog.Product
}

// Buckets splits products across the horizon. Products without a sell date,
// or selling outside the horizon, are left out.
func (c Calculator) Buckets(products []catalog.Product, now time.Time) []Bucket {
	horizon := c.Horizon(now)
	idx := make(map[catalog.Date]int, len(horizon))
	out := make([]Bucket, len(horizon))
	for i, d := range horizon {
		idx[d] = i
		out[i].Date = d
	}
	for _, p := range products {
		if p.SellDate == nil {
			continue
		}
		if i, ok := idx[*p.SellDate]; ok {
			out[i].Products = append(out[i].Products, p)
		}
	}
	return out
}

// FormatCountdown renders whole minutes as HH:MM; hours may exceed 23.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	m := int(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
