// Package kvstore provides the shared TTL key-value layer backing nonces,
// sessions, profiles, nickname mappings, rate counters, call state, and
// inbox persistence.
//
// Writes are last-writer-wins except SetIfAbsent, which is the conditional
// claim used to serialize nickname reservations. GetDel is the atomic
// read-and-delete used to consume authentication nonces exactly once.
package kvstore

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time // Zero means no expiry.
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory key-value store with per-entry TTL and background
// expiry. All operations are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time // Injectable clock for tests.

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects a clock, used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store and starts background expiry at the given cadence.
// A non-positive interval disables the background sweep; expired entries
// are still invisible to reads.
func New(cleanupInterval time.Duration, opts ...Option) *Store {
	s := &Store{
		data:   make(map[string]entry),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Get returns the value for key, or ok=false when absent or expired.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(s.now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. ttl<=0 means no expiry.
func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = s.makeEntry(value, ttl)
}

// SetIfAbsent stores value only when the key holds no live entry.
// Returns true when the claim succeeded.
func (s *Store) SetIfAbsent(key string, value []byte, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok && !e.expired(s.now()) {
		return false
	}
	s.data[key] = s.makeEntry(value, ttl)
	return true
}

// GetDel atomically reads and deletes the entry for key.
// At most one concurrent caller observes a live value.
func (s *Store) GetDel(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	delete(s.data, key)
	if e.expired(s.now()) {
		return nil, false
	}
	return e.value, true
}

// Incr atomically increments the integer counter at key and returns the new
// value. A fresh counter starts at 1 and takes the given TTL; an existing
// counter keeps its original expiry, which yields fixed-window semantics.
func (s *Store) Incr(key string, ttl time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	var expiresAt time.Time
	if e, ok := s.data[key]; ok && !e.expired(now) {
		n = parseCounter(e.value)
		expiresAt = e.expiresAt
	} else if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	n++
	s.data[key] = entry{value: []byte(strconv.FormatInt(n, 10)), expiresAt: expiresAt}
	return n
}

func parseCounter(b []byte) int64 {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Delete removes the entry for key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Scan returns the keys of live entries with the given prefix.
// Used by actors to rediscover persisted state after a restart.
func (s *Store) Scan(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var keys []string
	for k, e := range s.data {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, e := range s.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (s *Store) makeEntry(value []byte, ttl time.Duration) entry {
	cp := make([]byte, len(value))
	copy(cp, value)
	e := entry{value: cp}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

func (s *Store) cleanupLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.mu.Lock()
			now := s.now()
			for k, e := range s.data {
				if e.expired(now) {
					delete(s.data, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
