package ranking

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/window"
)

// Query selects the products shown for one pickup date.
type Query struct {
	Date  catalog.Date
	Term  string
	Group catalog.Grouping // nil means every category
	// Members is the product set of Group when Group is a Category.
	Members map[string]bool
}

type Entry struct {
	Product catalog.Product
	Status  window.Status
}

// Rank filters and orders products for q. The result depends only on the
// arguments, never on input order.
func Rank(products []catalog.Product, q Query, now time.Time, calc window.Calculator) []Entry {
	term := strings.ToLower(strings.TrimSpace(q.Term))

	out := make([]Entry, 0, len(products))
	for _, p := range products {
		if p.SellDate == nil || *p.SellDate != q.Date {
			continue
		}
		if !inGroup(p, q) {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(p.Name), term) {
			continue
		}
		out = append(out, Entry{Product: p, Status: calc.Evaluate(p, now)})
	}
	slices.SortFunc(out, compare)
	return out
}

func inGroup(p catalog.Product, q Query) bool {
	switch q.Group.(type) {
	case nil:
		return true
	case catalog.Recommended:
		return p.Recommended
	default:
		return q.Members[p.ID]
	}
}

func compare(a, b Entry) int {
	if c := cmp.Compare(a.Status.State, b.Status.State); c != 0 {
		return c
	}
	pa, pb := a.Product, b.Product
	var c int
	switch a.Status.State {
	case window.StateOpen:
		c = firstNonZero(
			compareOrderIndex(pa.OrderIndex, pb.OrderIndex),
			cmp.Compare(pb.Sold, pa.Sold),
			cmp.Compare(pb.Stock, pa.Stock),
		)
	case window.StatePendingOpen:
		c = firstNonZero(
			a.Status.OpensAt.Compare(b.Status.OpensAt),
			compareOrderIndex(pa.OrderIndex, pb.OrderIndex),
		)
	default:
		c = firstNonZero(
			compareOrderIndex(pa.OrderIndex, pb.OrderIndex),
			cmp.Compare(pb.Sold, pa.Sold),
		)
	}
	if c != 0 {
		return c
	}
	return strings.Compare(pa.ID, pb.ID)
}

// compareOrderIndex sorts a missing index after any present one.
func compareOrderIndex(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*a, *b)
}

func firstNonZero(cs ...int) int {
	for _, c := range cs {
		if c != 0 {
			return c
		}
	}
	return 0
}
