package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Clock is the only way time-dependent code reads "now".
type Clock interface {
	Now() time.Time
}

// Fixed always returns T.
type Fixed struct{ T time.Time }

func (f Fixed) Now() time.Time { return f.T }

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// TimeSource is the authoritative clock, normally the boundary server.
type TimeSource interface {
	FetchServerTime(ctx context.Context) (time.Time, error)
}

// Synchronizer keeps the offset between the local clock and a TimeSource.
// A failed fetch keeps the previous offset (zero before the first success).
type Synchronizer struct {
	source TimeSource
	local  func() time.Time
	log    *zap.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	offset   time.Duration
	syncedAt time.Time
}

type Option func(*Synchronizer)

// WithLocalClock replaces time.Now as the device clock.
func WithLocalClock(fn func() time.Time) Option {
	return func(s *Synchronizer) { s.local = fn }
}

func NewSynchronizer(source TimeSource, log *zap.Logger, opts ...Option) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Synchronizer{source: source, local: time.Now, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sync fetches one authoritative timestamp. Concurrent calls share a fetch.
// Errors are logged, never returned: a stale offset is preferred to blocking.
func (s *Synchronizer) Sync(ctx context.Context) {
	_, _, _ = s.group.Do("sync", func() (any, error) {
		server, err := s.source.FetchServerTime(ctx)
		if err != nil {
			s.log.Warn("clock sync failed, keeping previous offset",
				zap.Duration("offset", s.Offset()), zap.Error(err))
			return nil, nil
		}
		local := s.local()
		s.mu.Lock()
		s.offset = server.Sub(local)
		s.syncedAt = local
		s.mu.Unlock()
		s.log.Debug("clock synced", zap.Duration("offset", server.Sub(local)))
		return nil, nil
	})
}

func (s *Synchronizer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// SyncedAt is the local time of the last successful sync, zero if none.
func (s *Synchronizer) SyncedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncedAt
}

func (s *Synchronizer) Now() time.Time {
	return s.local().Add(s.Offset())
}

// Run syncs every interval until ctx is done. The first sync happens one
// interval after the call; callers that need a corrected clock right away
// call Sync first.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sync(ctx)
		case <-ctx.Done():
			s.log.Info("clock sync stopped")
			return
		}
	}
}
