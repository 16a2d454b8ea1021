// Package inbox implements per-recipient durable delivery queues.
//
// One actor exists per recipient and serializes every operation on that
// recipient's queue, so cache and persistence always move together. Delivery
// is at-least-once: Pull returns the oldest envelopes without removing them,
// Ack removes by id, and the per-envelope expiry is the backstop against
// unacked accumulation. Enqueue is idempotent on the envelope id.
package inbox

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/kvstore"
)

const (
	// DefaultTTL is the envelope lifetime applied when the gateway did not
	// stamp an expiry.
	DefaultTTL = 5 * time.Minute

	// MaxPull bounds how many envelopes a single Pull may return.
	MaxPull = 100
)

// Service routes inbox operations to per-recipient actors.
type Service struct {
	store *kvstore.Store
	log   zerolog.Logger
	now   func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
}

// actor owns one recipient's queue. Its mutex serializes all operations on
// the queue; the cached slice is rehydrated from the store on first touch.
type actor struct {
	mu        sync.Mutex
	recipient string
	loaded    bool
	queue     []Envelope
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns an inbox service backed by store.
func New(store *kvstore.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    log.With().Str("component", "inbox").Logger(),
		now:    time.Now,
		actors: make(map[string]*actor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store appends an envelope to the recipient's queue. Storing an envelope
// whose id is already queued is a no-op.
func (s *Service) Store(recipient string, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.ExpiresAt == 0 {
		env.ExpiresAt = s.now().Add(DefaultTTL).UnixMilli()
	}
	a := s.actor(recipient)
	a.mu.Lock()
	defer a.mu.Unlock()

	s.rehydrateLocked(a)
	changed := s.evictExpiredLocked(a)
	for i := range a.queue {
		if a.queue[i].ID == env.ID {
			// Duplicate: still persist any eviction that happened above.
			if changed {
				return s.persistLocked(a)
			}
			return nil
		}
	}
	a.queue = append(a.queue, env)
	return s.persistLocked(a)
}

// Pull returns the oldest envelopes currently queued, up to limit (clamped
// to [1, MaxPull]). Envelopes stay queued until acked.
func (s *Service) Pull(recipient string, limit int) ([]Envelope, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxPull {
		limit = MaxPull
	}
	a := s.actor(recipient)
	a.mu.Lock()
	defer a.mu.Unlock()

	s.rehydrateLocked(a)
	if s.evictExpiredLocked(a) {
		if err := s.persistLocked(a); err != nil {
			return nil, err
		}
	}
	n := len(a.queue)
	if n > limit {
		n = limit
	}
	out := make([]Envelope, n)
	copy(out, a.queue[:n])
	return out, nil
}

// Ack removes the envelopes with the given ids from the recipient's queue.
// Unknown ids are ignored.
func (s *Service) Ack(recipient string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	a := s.actor(recipient)
	a.mu.Lock()
	defer a.mu.Unlock()

	s.rehydrateLocked(a)
	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}
	kept := a.queue[:0]
	for _, env := range a.queue {
		if _, ok := acked[env.ID]; !ok {
			kept = append(kept, env)
		}
	}
	if len(kept) == len(a.queue) {
		return nil
	}
	a.queue = kept
	return s.persistLocked(a)
}

// Len reports the current queue depth, after expiry eviction.
func (s *Service) Len(recipient string) int {
	a := s.actor(recipient)
	a.mu.Lock()
	defer a.mu.Unlock()
	s.rehydrateLocked(a)
	s.evictExpiredLocked(a)
	return len(a.queue)
}

func (s *Service) actor(recipient string) *actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[recipient]
	if !ok {
		a = &actor{recipient: recipient}
		s.actors[recipient] = a
	}
	return a
}

// rehydrateLocked loads the persisted queue on first touch (or after the
// process restarted with state still in the store).
func (s *Service) rehydrateLocked(a *actor) {
	if a.loaded {
		return
	}
	a.loaded = true
	b, ok := s.store.Get(inboxKey(a.recipient))
	if !ok {
		return
	}
	var queue []Envelope
	if err := json.Unmarshal(b, &queue); err != nil {
		s.log.Error().Str("recipient", a.recipient).Err(err).Msg("corrupt inbox record, dropping")
		s.store.Delete(inboxKey(a.recipient))
		return
	}
	a.queue = queue
}

// evictExpiredLocked drops envelopes past their expiry; reports whether the
// queue changed.
func (s *Service) evictExpiredLocked(a *actor) bool {
	nowMillis := s.now().UnixMilli()
	kept := a.queue[:0]
	for _, env := range a.queue {
		if env.ExpiresAt > nowMillis {
			kept = append(kept, env)
		}
	}
	if len(kept) == len(a.queue) {
		return false
	}
	a.queue = kept
	return true
}

// persistLocked writes the queue through to the store. Persistence happens
// only on change; callers decide when a change occurred.
func (s *Service) persistLocked(a *actor) error {
	if len(a.queue) == 0 {
		s.store.Delete(inboxKey(a.recipient))
		return nil
	}
	b, err := json.Marshal(a.queue)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "inbox write failed", err)
	}
	// The record expires with its longest-lived envelope, so a queue the
	// recipient never polls again still leaves the store.
	var last int64
	for _, env := range a.queue {
		if env.ExpiresAt > last {
			last = env.ExpiresAt
		}
	}
	ttl := time.Duration(last-s.now().UnixMilli()) * time.Millisecond
	if ttl <= 0 {
		s.store.Delete(inboxKey(a.recipient))
		return nil
	}
	s.store.Set(inboxKey(a.recipient), b, ttl)
	return nil
}

func inboxKey(recipient string) string { return "inbox/" + recipient }
