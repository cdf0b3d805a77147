package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"courtside/internal/api"
	"courtside/internal/domain"
	"courtside/internal/metrics"
	"courtside/internal/models"
	"courtside/internal/store"
)

const keyPrefix = "availability:"

// SnapshotObserver is notified with freshly fetched groups. The lock
// controller hangs its reconciliation off this.
type SnapshotObserver func(vendorID, date string, groups []models.ResourceGroup)

// Service is the reactive availability cache: grouped slots per
// (vendorID, date), memoized with a short staleness window, serving last
// known-good data when the server misbehaves.
type Service struct {
	client    domain.AvailabilityAPI
	store     store.Store
	logger    *zerolog.Logger
	staleness time.Duration
	cacheTTL  time.Duration
	retry     api.RetryPolicy

	mu        sync.Mutex
	guard     domain.HoldGuard
	observers []SnapshotObserver
	tracked   map[string][2]string // cache key -> (vendorID, date)
}

func NewService(client domain.AvailabilityAPI, cache store.Store, staleness, cacheTTL time.Duration, retry api.RetryPolicy, logger *zerolog.Logger) *Service {
	if staleness <= 0 {
		staleness = models.DefaultStaleness
	}
	if cacheTTL <= 0 {
		cacheTTL = models.DefaultCacheMaxAge
	}
	return &Service{
		client:    client,
		store:     cache,
		logger:    logger,
		staleness: staleness,
		cacheTTL:  cacheTTL,
		retry:     retry,
		tracked:   make(map[string][2]string),
	}
}

// SetHoldGuard wires the lock controller in; the background refresher skips
// its tick while a lock request is mid-flight so a stale poll cannot race
// the optimistic adoption of the hold.
func (s *Service) SetHoldGuard(guard domain.HoldGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = guard
}

// OnSnapshot registers an observer invoked after every successful fetch.
func (s *Service) OnSnapshot(fn SnapshotObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func cacheKey(vendorID, date string) string {
	return keyPrefix + vendorID + ":" + date
}

// Fetch returns resource groups for a vendor and date. Served from cache
// while inside the staleness window, otherwise refetched with bounded
// retries; on persistent failure the last known-good snapshot is returned
// instead of an error.
func (s *Service) Fetch(ctx context.Context, vendorID, date string) ([]models.ResourceGroup, error) {
	if strings.TrimSpace(vendorID) == "" {
		return nil, fmt.Errorf("%w: vendor id is required", api.ErrValidation)
	}
	if !models.ValidDate(date) {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", api.ErrValidation)
	}

	key := cacheKey(vendorID, date)

	entry, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	if entry != nil && time.Since(entry.StoredAt) <= s.staleness {
		if groups, err := decodeGroups(entry.Value); err == nil {
			metrics.IncCacheLookup("hit")
			return groups, nil
		}
	}

	groups, fetchErr := s.fetchFresh(ctx, vendorID, date)
	if fetchErr == nil {
		return groups, nil
	}

	// Stale-while-error: a known-good snapshot beats an error page.
	if entry != nil {
		if groups, err := decodeGroups(entry.Value); err == nil {
			metrics.IncCacheLookup("stale")
			s.logger.Warn().Err(fetchErr).Str("key", key).Msg("serving stale availability after fetch failure")
			return groups, nil
		}
	}
	metrics.IncCacheLookup("miss")
	return nil, fetchErr
}

// ForceRefresh drops the cached snapshot and refetches immediately. Used
// after conflicts, expiries, and payment success, where waiting out the poll
// cycle would show the user a dead slot.
func (s *Service) ForceRefresh(ctx context.Context, vendorID, date string) ([]models.ResourceGroup, error) {
	if err := s.Invalidate(ctx, vendorID, date); err != nil {
		return nil, err
	}
	return s.Fetch(ctx, vendorID, date)
}

// Invalidate drops the cached entry for one (vendorID, date).
func (s *Service) Invalidate(ctx context.Context, vendorID, date string) error {
	return s.store.Invalidate(ctx, cacheKey(vendorID, date))
}

// InvalidateAll drops every availability entry.
func (s *Service) InvalidateAll(ctx context.Context) error {
	return s.store.InvalidatePrefix(ctx, keyPrefix)
}

func (s *Service) fetchFresh(ctx context.Context, vendorID, date string) ([]models.ResourceGroup, error) {
	var lastErr error
	attempts := s.retry.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		slots, err := s.client.Availability(ctx, vendorID, date)
		if err == nil {
			groups := models.GroupSlots(date, slots)
			s.storeSnapshot(ctx, vendorID, date, groups)
			s.notify(vendorID, date, groups)
			return groups, nil
		}
		lastErr = err
		if !api.IsRetryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retry.NextDelay(attempt)):
		}
	}
	return nil, lastErr
}

func (s *Service) storeSnapshot(ctx context.Context, vendorID, date string, groups []models.ResourceGroup) {
	key := cacheKey(vendorID, date)
	data, err := json.Marshal(groups)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("encode availability snapshot")
		return
	}
	if err := s.store.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}

	s.mu.Lock()
	s.tracked[key] = [2]string{vendorID, date}
	s.mu.Unlock()
}

func (s *Service) notify(vendorID, date string, groups []models.ResourceGroup) {
	s.mu.Lock()
	observers := append([]SnapshotObserver(nil), s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(vendorID, date, groups)
	}
}

func decodeGroups(raw []byte) ([]models.ResourceGroup, error) {
	var groups []models.ResourceGroup
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}
