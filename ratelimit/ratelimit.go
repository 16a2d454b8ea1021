// Package ratelimit provides fixed-window counters per identity per action.
//
// The window-rollover burst (up to 2x limit around a boundary) is accepted;
// the purpose is abuse mitigation, not precise shaping.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/solink/solink-server/kvstore"
)

const (
	DefaultLimit  = 60
	DefaultWindow = 60 * time.Second
)

// Limiter admits or denies events against fixed-window counters in the
// shared store. Counters live at "rate/<bucket>/<identity>/<window>" with
// TTL equal to the window, so stale windows expire on their own.
type Limiter struct {
	store  *kvstore.Store
	limit  int64
	window time.Duration
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a limiter allowing limit events per window per identity.
// Non-positive arguments fall back to the defaults.
func New(store *kvstore.Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
	if l.limit <= 0 {
		l.limit = DefaultLimit
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one event for (identity, bucket) and reports whether it is
// within the window's limit.
func (l *Limiter) Allow(identity, bucket string) bool {
	windowIdx := l.now().Unix() / int64(l.window/time.Second)
	key := fmt.Sprintf("rate/%s/%s/%d", bucket, identity, windowIdx)
	return l.store.Incr(key, l.window) <= l.limit
}
