package reservation

import (
	"context"
	"sync"
)

// Guard admits one holder per key. A second TryAcquire on a held key
// returns false instead of waiting.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: map[string]struct{}{}}
}

func (g *LocalGuard) TryAcquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return false, nil
	}
	g.held[key] = struct{}{}
	return true, nil
}

func (g *LocalGuard) Release(_ context.Context, key string) {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
}

func submitKey(account, productID string) string { return "submit:" + account + ":" + productID }

func fulfilKey(reservationID string) string { return "fulfil:" + reservationID }
