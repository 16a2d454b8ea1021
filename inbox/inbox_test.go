package inbox

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solink/solink-server/kvstore"
)

const bob = "BobRecipientKey11111111111111111111111111111"

func newTestService(t *testing.T) (*Service, *kvstore.Store, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	store := kvstore.New(0, kvstore.WithClock(func() time.Time { return now }))
	t.Cleanup(store.Close)
	s := New(store, zerolog.Nop(), WithClock(func() time.Time { return now }))
	return s, store, &now
}

func env(id, ciphertext string) Envelope {
	return Envelope{
		ID:         id,
		From:       "AliceSenderKey111111111111111111111111111111",
		To:         bob,
		Ciphertext: ciphertext,
		Nonce:      "n-" + id,
	}
}

func TestStorePullOrder(t *testing.T) {
	s, _, _ := newTestService(t)

	if err := s.Store(bob, env("M1", "C1")); err != nil {
		t.Fatalf("store M1: %v", err)
	}
	if err := s.Store(bob, env("M2", "C2")); err != nil {
		t.Fatalf("store M2: %v", err)
	}

	got, err := s.Pull(bob, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(got) != 2 || got[0].ID != "M1" || got[1].ID != "M2" {
		t.Fatalf("unexpected order: %+v", got)
	}
	// Pull does not remove.
	again, _ := s.Pull(bob, 10)
	if len(again) != 2 {
		t.Fatalf("pull removed envelopes: %d left", len(again))
	}
}

func TestStoreIdempotent(t *testing.T) {
	s, _, _ := newTestService(t)

	e := env("M1", "C1")
	if err := s.Store(bob, e); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Store(bob, e); err != nil {
		t.Fatalf("duplicate store: %v", err)
	}
	got, _ := s.Pull(bob, 10)
	if len(got) != 1 {
		t.Fatalf("expected exactly one copy, got %d", len(got))
	}
}

func TestAckRemoves(t *testing.T) {
	s, _, _ := newTestService(t)

	s.Store(bob, env("M1", "C1"))
	s.Store(bob, env("M2", "C2"))
	if err := s.Ack(bob, []string{"M1"}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, _ := s.Pull(bob, 10)
	if len(got) != 1 || got[0].ID != "M2" {
		t.Fatalf("unexpected queue after ack: %+v", got)
	}
	// Acking unknown ids is a no-op.
	if err := s.Ack(bob, []string{"M1", "ghost"}); err != nil {
		t.Fatalf("ack unknown: %v", err)
	}
}

func TestExpiryEviction(t *testing.T) {
	s, _, now := newTestService(t)

	s.Store(bob, env("M1", "C1"))
	*now = now.Add(2 * time.Minute)
	s.Store(bob, env("M2", "C2"))
	*now = now.Add(DefaultTTL - 2*time.Minute + time.Second)

	// M1 is past its 5-minute expiry, M2 is not.
	got, _ := s.Pull(bob, 10)
	if len(got) != 1 || got[0].ID != "M2" {
		t.Fatalf("expected only M2 to survive, got %+v", got)
	}

	*now = now.Add(DefaultTTL)
	got, _ = s.Pull(bob, 10)
	if len(got) != 0 {
		t.Fatalf("expected empty queue, got %+v", got)
	}
}

func TestPullClamp(t *testing.T) {
	s, _, _ := newTestService(t)

	for i := 0; i < MaxPull+20; i++ {
		s.Store(bob, env(fmt.Sprintf("M%03d", i), "C"))
	}
	got, _ := s.Pull(bob, 1000)
	if len(got) != MaxPull {
		t.Fatalf("pull returned %d, want clamp at %d", len(got), MaxPull)
	}
	got, _ = s.Pull(bob, -3)
	if len(got) != 1 {
		t.Fatalf("non-positive limit should clamp to 1, got %d", len(got))
	}
}

func TestValidation(t *testing.T) {
	s, _, _ := newTestService(t)

	if err := s.Store(bob, Envelope{From: "a", To: bob, Text: "hi"}); err == nil {
		t.Fatalf("expected missing id to be rejected")
	}
	if err := s.Store(bob, Envelope{ID: "x", From: "a", To: bob}); err == nil {
		t.Fatalf("expected missing content to be rejected")
	}
	long := make([]byte, MaxTextLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := s.Store(bob, Envelope{ID: "x", From: "a", To: bob, Text: string(long)}); err == nil {
		t.Fatalf("expected oversized text to be rejected")
	}
	// Ciphertext without its nonce is incomplete.
	if err := s.Store(bob, Envelope{ID: "x", From: "a", To: bob, Ciphertext: "c"}); err == nil {
		t.Fatalf("expected ciphertext without nonce to be rejected")
	}
	// Voice-only envelopes are fine.
	if err := s.Store(bob, Envelope{ID: "v", From: "a", To: bob, VoiceKey: "voice/b/v"}); err != nil {
		t.Fatalf("voice envelope rejected: %v", err)
	}
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	s, store, now := newTestService(t)

	s.Store(bob, env("M1", "C1"))
	s.Store(bob, env("M2", "C2"))

	// A fresh service over the same store sees the queue.
	s2 := New(store, zerolog.Nop(), WithClock(func() time.Time { return *now }))
	got, _ := s2.Pull(bob, 10)
	if len(got) != 2 || got[0].ID != "M1" {
		t.Fatalf("rehydrated queue wrong: %+v", got)
	}

	// Acking everything clears the persisted record.
	s2.Ack(bob, []string{"M1", "M2"})
	if _, ok := store.Get("inbox/" + bob); ok {
		t.Fatalf("expected empty queue to delete persisted record")
	}
}

func TestPersistedRecordExpiresWithQueue(t *testing.T) {
	s, store, now := newTestService(t)

	s.Store(bob, env("M1", "C1"))
	if _, ok := store.Get("inbox/" + bob); !ok {
		t.Fatalf("expected persisted record")
	}
	// Without any further poll, the store self-cleans once every envelope
	// is past its expiry.
	*now = now.Add(DefaultTTL + time.Second)
	if _, ok := store.Get("inbox/" + bob); ok {
		t.Fatalf("record outlived its envelopes")
	}
}

func TestRecipientsIsolated(t *testing.T) {
	s, _, _ := newTestService(t)
	carol := "CarolRecipientKey111111111111111111111111111"

	s.Store(bob, env("M1", "C1"))
	got, _ := s.Pull(carol, 10)
	if len(got) != 0 {
		t.Fatalf("carol sees bob's mail: %+v", got)
	}
}
