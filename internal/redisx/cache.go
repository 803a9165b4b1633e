package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-pickup-slots/internal/reservation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedBoundary fronts the read-only lookups of a reservation boundary with
// Redis. Mutations go straight through. Cache errors fall back to the source.
type CachedBoundary struct {
	reservation.Boundary
	rdb *redis.Client
	log *zap.Logger
}

func NewCachedBoundary(b reservation.Boundary, rdb *redis.Client, log *zap.Logger) *CachedBoundary {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedBoundary{Boundary: b, rdb: rdb, log: log}
}

func (c *CachedBoundary) FetchDeliveryConfig(ctx context.Context) (reservation.DeliveryConfig, error) {
	var cfg reservation.DeliveryConfig
	if b, err := c.rdb.Get(ctx, KeyDeliveryConfig).Bytes(); err == nil {
		if json.Unmarshal(b, &cfg) == nil {
			return cfg, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("delivery config cache read", zap.Error(err))
	}

	cfg, err := c.Boundary.FetchDeliveryConfig(ctx)
	if err != nil {
		return cfg, err
	}
	if b, err := json.Marshal(cfg); err == nil {
		_ = c.rdb.Set(ctx, KeyDeliveryConfig, b, TTLDeliveryConfig).Err()
	}
	return cfg, nil
}

func (c *CachedBoundary) CheckSelfPickupEligibility(ctx context.Context) (bool, error) {
	key := fmt.Sprintf(KeyEligibility, reservation.AccountFromContext(ctx))
	if s, err := c.rdb.Get(ctx, key).Result(); err == nil {
		return s == "1", nil
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("eligibility cache read", zap.Error(err))
	}

	ok, err := c.Boundary.CheckSelfPickupEligibility(ctx)
	if err != nil {
		return false, err
	}
	v := "0"
	if ok {
		v = "1"
	}
	_ = c.rdb.Set(ctx, key, v, TTLEligibility).Err()
	return ok, nil
}
