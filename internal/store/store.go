package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Entry is one cached value with the instant it was stored. Staleness
// decisions belong to the caller; the TTL passed to Set is a hard bound after
// which the entry is gone.
type Entry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Store is the single shared mutable cache all components go through. Slot
// state is never mutated in place; readers get snapshots and writers replace
// whole entries, so cross-component invalidation stays an explicit call.
type Store interface {
	// Get returns the entry for key, or nil when missing or expired.
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	// InvalidatePrefix drops every entry whose key starts with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is the in-process hot cache, also the fallback when a
// persistent backend is down.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	me, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.now().After(me.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, nil
	}
	entry := me.entry
	return &entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	s.mu.Lock()
	s.entries[key] = memoryEntry{
		entry:     Entry{Value: value, StoredAt: now},
		expiresAt: now.Add(ttl),
	}
	s.mu.Unlock()
	return nil
}

// setEntry stores a prebuilt entry without restamping StoredAt. The tiered
// store uses it to promote backend hits into the hot layer.
func (s *MemoryStore) setEntry(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{
		entry:     entry,
		expiresAt: s.now().Add(ttl),
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Invalidate(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InvalidatePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
	return nil
}
