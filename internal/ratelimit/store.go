package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Store decides whether a request identified by key fits within a
// per-minute budget.
type Store interface {
	// Allow reports whether the request is within the limit. Implementations
	// must be safe for concurrent use.
	Allow(ctx context.Context, key string, perMinute int) (bool, error)
}

const (
	idleTTL      = 15 * time.Minute
	cleanupEvery = 2 * time.Minute
)

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore is a per-instance token bucket store. Each key gets its own
// limiter refilling at the per-minute budget with a burst of the full
// budget, matching fixed-window behavior for bursty browser traffic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a memory store and starts its idle-entry janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, perMinute int) (bool, error) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &memoryEntry{
			limiter: rate.NewLimiter(rate.Limit(perMinute)/60, perMinute),
		}
		s.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	s.mu.Unlock()

	return entry.limiter.Allow(), nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			cutoff := time.Now().Add(-idleTTL)
			for key, entry := range s.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
