package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TieredStore layers the in-memory hot cache over a persistent backend.
// Reads hit memory first; writes go to both. When the backend fails the store
// degrades to memory-only and probes for recovery once a minute, so a dead
// Redis or a locked cache file never takes reservations down with it.
type TieredStore struct {
	hot       *MemoryStore
	backend   Store
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of last failed probe
}

const (
	recoveryProbeInterval = time.Minute

	// hotPromoteTTL bounds how long a promoted backend entry stays in memory
	// before the backend is consulted again. The backend's own TTL remains
	// the source of truth for expiry.
	hotPromoteTTL = time.Minute
)

func NewTieredStore(hot *MemoryStore, backend Store, logger *zerolog.Logger) *TieredStore {
	return &TieredStore{hot: hot, backend: backend, logger: logger}
}

func (s *TieredStore) backendUp() bool {
	if s.backend == nil {
		return false
	}
	if !s.isDown.Load() {
		return true
	}
	last := time.Unix(0, s.lastCheck.Load())
	return time.Since(last) > recoveryProbeInterval
}

func (s *TieredStore) backendFailed(err error, op string) {
	s.logger.Warn().Err(err).Str("op", op).Msg("cache backend failed, degrading to memory")
	s.isDown.Store(true)
	s.lastCheck.Store(time.Now().UnixNano())
}

func (s *TieredStore) Get(ctx context.Context, key string) (*Entry, error) {
	if entry, err := s.hot.Get(ctx, key); err == nil && entry != nil {
		return entry, nil
	}

	if s.backendUp() {
		entry, err := s.backend.Get(ctx, key)
		if err != nil {
			s.backendFailed(err, "get")
			return nil, nil
		}
		s.isDown.Store(false)
		if entry != nil {
			// Promote so repeat reads stay in memory. StoredAt is preserved,
			// so staleness decisions stay with the caller.
			_ = s.hot.setEntry(ctx, key, *entry, hotPromoteTTL)
		}
		return entry, nil
	}
	return nil, nil
}

func (s *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.hot.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if s.backendUp() {
		if err := s.backend.Set(ctx, key, value, ttl); err != nil {
			s.backendFailed(err, "set")
			return nil
		}
		s.isDown.Store(false)
	}
	return nil
}

func (s *TieredStore) Invalidate(ctx context.Context, key string) error {
	if err := s.hot.Invalidate(ctx, key); err != nil {
		return err
	}
	if s.backendUp() {
		if err := s.backend.Invalidate(ctx, key); err != nil {
			s.backendFailed(err, "invalidate")
		}
	}
	return nil
}

func (s *TieredStore) InvalidatePrefix(ctx context.Context, prefix string) error {
	if err := s.hot.InvalidatePrefix(ctx, prefix); err != nil {
		return err
	}
	if s.backendUp() {
		if err := s.backend.InvalidatePrefix(ctx, prefix); err != nil {
			s.backendFailed(err, "invalidate_prefix")
		}
	}
	return nil
}
