package tgui

import (
	"sync"
	"time"
)

// Store is an in-memory TTL map for UI state that must survive between a
// rendered message and the command or click that refers to it.
type Store[K comparable, V any] struct {
	mu sync.Mutex

	ttl time.Duration
	max int
	now func() time.Time

	// cleanupInterval bounds how often expired entries are swept.
	cleanupInterval time.Duration
	nextCleanup     time.Time

	m map[K]storeEntry[V]
}

type storeEntry[V any] struct {
	v   V
	exp time.Time
}

// NewStore creates a Store. Defaults: ttl=15m, max=5000, cleanup every minute.
func NewStore[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		ttl:             15 * time.Minute,
		max:             5000,
		now:             time.Now,
		cleanupInterval: time.Minute,
		m:               map[K]storeEntry[V]{},
	}
}

func (s *Store[K, V]) WithTTL(ttl time.Duration) *Store[K, V] {
	if ttl > 0 {
		s.mu.Lock()
		s.ttl = ttl
		s.mu.Unlock()
	}
	return s
}

func (s *Store[K, V]) WithMax(max int) *Store[K, V] {
	if max > 0 {
		s.mu.Lock()
		s.max = max
		s.mu.Unlock()
	}
	return s
}

// WithClock replaces time.Now, for tests.
func (s *Store[K, V]) WithClock(now func() time.Time) *Store[K, V] {
	if now != nil {
		s.mu.Lock()
		s.now = now
		s.mu.Unlock()
	}
	return s
}

// Put stores v under k, replacing any previous value.
func (s *Store[K, V]) Put(k K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeCleanupLocked(now)
	s.m[k] = storeEntry[V]{v: v, exp: now.Add(s.ttl)}
	s.enforceMaxLocked()
}

func (s *Store[K, V]) Get(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeCleanupLocked(now)
	e, ok := s.m[k]
	if !ok || now.After(e.exp) {
		if ok {
			delete(s.m, k)
		}
		var zero V
		return zero, false
	}
	return e.v, true
}

func (s *Store[K, V]) Delete(k K) {
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}

func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Store[K, V]) maybeCleanupLocked(now time.Time) {
	if s.nextCleanup.IsZero() {
		s.nextCleanup = now.Add(s.cleanupInterval)
		return
	}
	if now.Before(s.nextCleanup) {
		return
	}
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.nextCleanup = now.Add(s.cleanupInterval)
}

func (s *Store[K, V]) enforceMaxLocked() {
	if s.max <= 0 || len(s.m) <= s.max {
		return
	}
	// evict the entries closest to expiry
	for len(s.m) > s.max {
		var (
			victim K
			first  = true
			oldest time.Time
		)
		for k, e := range s.m {
			if first || e.exp.Before(oldest) {
				victim, oldest, first = k, e.exp, false
			}
		}
		delete(s.m, victim)
	}
}
