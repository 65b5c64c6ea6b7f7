// Package store holds the single most recent probe reading.
//
// There is exactly one live value. Every Set fully replaces it and concurrent
// writers resolve as last write wins; readers always observe either the
// latest written value or reading.Default.
package store

import (
	"sync"
	"time"

	"github.com/banshee-data/magnetprobe/internal/reading"
	"github.com/banshee-data/magnetprobe/internal/timeutil"
)

// Store is a synchronized single-slot container for the current reading.
type Store struct {
	mu        sync.RWMutex
	current   reading.Reading
	updatedAt time.Time
	clock     timeutil.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp updates.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns a Store holding reading.Default.
func New(opts ...Option) *Store {
	s := &Store{
		current: reading.Default(),
		clock:   timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set replaces the current reading unconditionally and returns the time the
// update was recorded.
func (s *Store) Set(r reading.Reading) time.Time {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
	s.updatedAt = now
	return now
}

// Get returns the current reading, or reading.Default if Set was never called.
func (s *Store) Get() reading.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Snapshot returns the current reading with the time it was set. The time is
// zero while the store still holds the default.
func (s *Store) Snapshot() (reading.Reading, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.updatedAt
}

// Restore seeds the store with a reading recorded at an earlier time, such
// as a persisted snapshot loaded at startup.
func (s *Store) Restore(r reading.Reading, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
	s.updatedAt = at
}
