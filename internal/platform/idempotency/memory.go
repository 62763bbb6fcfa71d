package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory for the memory storage driver and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (Claim, Entry, error) {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	id := scope.id()
	entry, ok := s.entries[id]
	if !ok || entry.expired(now) {
		entry = pendingEntry(scope, fingerprint, now, ttl)
		s.entries[id] = entry
		return ClaimNew, entry, nil
	}
	claim, err := classify(entry, fingerprint)
	if err != nil {
		return 0, Entry{}, err
	}
	return claim, entry, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	id := scope.id()
	entry, ok := s.entries[id]
	if ok && entry.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	if !ok {
		entry = pendingEntry(scope, fingerprint, now, ttl)
	}
	s.entries[id] = completeEntry(entry, resp, now, ttl)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, scope Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, scope.id())
	return nil
}

// PurgeExpired implements Store. A non-positive limit removes every expired entry.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if !entry.expired(now) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed, nil
}
