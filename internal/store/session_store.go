package store

import (
	"context"
	"sync"
	"time"
)

type sessionEntry[T any] struct {
	value    T
	lastSeen time.Time
}

// SessionStore keeps per-session values in memory and forgets those idle
// for longer than the TTL.
type SessionStore[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*sessionEntry[T]
	now     func() time.Time
}

func NewSessionStore[T any](ttl time.Duration) *SessionStore[T] {
	return &SessionStore[T]{
		ttl:     ttl,
		entries: make(map[string]*sessionEntry[T]),
		now:     time.Now,
	}
}

func (s *SessionStore[T]) Put(id string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &sessionEntry[T]{value: value, lastSeen: s.now()}
}

// Get returns the value and marks the session as active.
func (s *SessionStore[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		var zero T
		return zero, false
	}
	e.lastSeen = s.now()
	return e.value, true
}

func (s *SessionStore[T]) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *SessionStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired sessions and returns how many were dropped.
func (s *SessionStore[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (s *SessionStore[T]) Run(ctx context.Context, interval time.Duration, onSweep func(dropped int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}

func (s *SessionStore[T]) expired(e *sessionEntry[T]) bool {
	return s.ttl > 0 && s.now().Sub(e.lastSeen) > s.ttl
}
