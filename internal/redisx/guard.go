package redisx

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard is a cross-instance try-lock. Locks expire after TTLGuard so a
// crashed holder cannot block a product forever.
type Guard struct {
	rdb *redis.Client
	log *zap.Logger

	mu     sync.Mutex
	tokens map[string]string
}

func NewGuard(rdb *redis.Client, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{rdb: rdb, log: log, tokens: map[string]string{}}
}

func (g *Guard) TryAcquire(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, fmt.Sprintf(KeyGuard, key), token, TTLGuard).Result()
	if err != nil || !ok {
		return false, err
	}
	g.mu.Lock()
	g.tokens[key] = token
	g.mu.Unlock()
	return true, nil
}

func (g *Guard) Release(ctx context.Context, key string) {
	g.mu.Lock()
	token, ok := g.tokens[key]
	delete(g.tokens, key)
	g.mu.Unlock()
	if !ok {
		return
	}
	if err := releaseScript.Run(ctx, g.rdb, []string{fmt.Sprintf(KeyGuard, key)}, token).Err(); err != nil {
		g.log.Warn("guard release failed", zap.String("key", key), zap.Error(err))
	}
}
