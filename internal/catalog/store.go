package catalog

import "sync"

// State is an immutable snapshot of the locally known products.
type State struct {
	products []Product
	byID     map[string]int
}

func NewState(products []Product) State {
	s := State{
		products: make([]Product, len(products)),
		byID:     make(map[string]int, len(products)),
	}
	copy(s.products, products)
	for i, p := range s.products {
		s.byID[p.ID] = i
	}
	return s
}

func (s State) Products() []Product {
	out := make([]Product, len(s.products))
	copy(out, s.products)
	return out
}

func (s State) Product(id string) (Product, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Product{}, false
	}
	return s.products[i], true
}

// Event is a local mutation. Applying one never modifies the input state.
type Event interface {
	apply(State) State
}

// Refreshed replaces the whole product set with the boundary's view.
type Refreshed struct{ Products []Product }

// StockReserved is the optimistic decrement after a committed reservation.
type StockReserved struct {
	ProductID string
	Qty       int
}

// StockReleased gives stock back after a cancellation.
type StockReleased struct {
	ProductID string
	Qty       int
}

type RecommendedChanged struct {
	ProductID   string
	Recommended bool
}

func (e Refreshed) apply(State) State { return NewState(e.Products) }

func (e StockReserved) apply(s State) State {
	return s.update(e.ProductID, func(p *Product) {
		p.Stock -= e.Qty
		if p.Stock < 0 {
			p.Stock = 0
		}
	})
}

func (e StockReleased) apply(s State) State {
	return s.update(e.ProductID, func(p *Product) { p.Stock += e.Qty })
}

func (e RecommendedChanged) apply(s State) State {
	return s.update(e.ProductID, func(p *Product) { p.Recommended = e.Recommended })
}

func (s State) update(id string, fn func(*Product)) State {
	i, ok := s.byID[id]
	if !ok {
		return s
	}
	next := State{products: make([]Product, len(s.products)), byID: s.byID}
	copy(next.products, s.products)
	fn(&next.products[i])
	return next
}

// Reduce applies e to s.
func Reduce(s State, e Event) State { return e.apply(s) }

// Store holds the current State and serializes Dispatch.
type Store struct {
	mu    sync.RWMutex
	state State
}

func NewStore() *Store { return &Store{state: NewState(nil)} }

func (st *Store) Dispatch(events ...Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, e := range events {
		st.state = Reduce(st.state, e)
	}
}

func (st *Store) Snapshot() State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state
}

func (st *Store) Products() []Product { return st.Snapshot().Products() }

func (st *Store) Product(id string) (Product, bool) { return st.Snapshot().Product(id) }
