package kvstore

import (
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Unix(1000, 0)
	s := New(0, WithClock(func() time.Time { return now }))
	t.Cleanup(s.Close)
	return s, &now
}

func TestSetGetDelete(t *testing.T) {
	s, _ := newTestStore(t)

	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected miss on empty store")
	}
	s.Set("k", []byte("v1"), 0)
	got, ok := s.Get("k")
	if !ok || string(got) != "v1" {
		t.Fatalf("got %q ok=%v, want v1", got, ok)
	}
	s.Set("k", []byte("v2"), 0)
	got, _ = s.Get("k")
	if string(got) != "v2" {
		t.Fatalf("expected last-writer-wins, got %q", got)
	}
	s.Delete("k")
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	s, now := newTestStore(t)

	s.Set("k", []byte("v"), 5*time.Second)
	if _, ok := s.Get("k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	*now = now.Add(6 * time.Second)
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected miss after expiry")
	}
}

func TestSetIfAbsent(t *testing.T) {
	s, now := newTestStore(t)

	if !s.SetIfAbsent("nick/alpha", []byte("X"), 0) {
		t.Fatalf("expected first claim to succeed")
	}
	if s.SetIfAbsent("nick/alpha", []byte("Y"), 0) {
		t.Fatalf("expected second claim to fail")
	}
	got, _ := s.Get("nick/alpha")
	if string(got) != "X" {
		t.Fatalf("loser overwrote the claim: %q", got)
	}

	// An expired entry does not block a new claim.
	s.Set("nonce/p", []byte("n"), time.Second)
	*now = now.Add(2 * time.Second)
	if !s.SetIfAbsent("nonce/p", []byte("m"), 0) {
		t.Fatalf("expected claim over expired entry to succeed")
	}
}

func TestGetDelSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	s.Set("nonce/alice", []byte("N1"), 0)

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.GetDel("nonce/alice"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one winner, got %d", n)
	}
}

func TestGetDelExpired(t *testing.T) {
	s, now := newTestStore(t)
	s.Set("k", []byte("v"), time.Second)
	*now = now.Add(2 * time.Second)
	if _, ok := s.GetDel("k"); ok {
		t.Fatalf("expected expired entry to be unreadable via GetDel")
	}
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected entry to be gone")
	}
}

func TestScan(t *testing.T) {
	s, now := newTestStore(t)
	s.Set("call/r1", []byte("a"), 0)
	s.Set("call/r2", []byte("b"), time.Second)
	s.Set("session/t", []byte("c"), 0)

	keys := s.Scan("call/")
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2: %v", len(keys), keys)
	}
	*now = now.Add(2 * time.Second)
	keys = s.Scan("call/")
	if len(keys) != 1 || keys[0] != "call/r1" {
		t.Fatalf("expected only live keys, got %v", keys)
	}
}

func TestValueIsCopied(t *testing.T) {
	s, _ := newTestStore(t)
	buf := []byte("orig")
	s.Set("k", buf, 0)
	buf[0] = 'X'
	got, _ := s.Get("k")
	if string(got) != "orig" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}
