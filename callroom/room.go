// Package callroom implements per-call signaling rooms. A room is a
// single-writer actor: one mutex serializes every event touching its state,
// which is persisted through the shared store so a room rebuilt after a
// restart can still finalize its call.
package callroom

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/kvstore"
	"github.com/solink/solink-server/observability"
)

const (
	// GracePeriod is how long an abnormally closed participant may stay
	// absent before the call ends.
	GracePeriod = 5 * time.Second

	// StaleRingTTL discards calls that rang unanswered for too long.
	StaleRingTTL = 5 * time.Minute
)

// Transport is a live signaling stream to one participant.
type Transport interface {
	Send(f Frame) error
	Close() error
}

// pendingDisconnection marks a participant whose transport dropped without a
// close frame. Persisted so the grace deadline survives room eviction.
type pendingDisconnection struct {
	Participant string `json:"participant"`
	Deadline    int64  `json:"deadline"` // Unix millis.
}

// Room is the actor for one call.
type Room struct {
	id    string
	store *kvstore.Store
	log   zerolog.Logger
	obs   observability.MessengerObserver
	now   func() time.Time

	mu       sync.Mutex
	loaded   bool
	state    *CallState
	sessions map[string]Transport
	pending  *pendingDisconnection
}

func newRoom(id string, store *kvstore.Store, log zerolog.Logger, obs observability.MessengerObserver, now func() time.Time) *Room {
	return &Room{
		id:       id,
		store:    store,
		log:      log.With().Str("room", id).Logger(),
		obs:      obs,
		now:      now,
		sessions: make(map[string]Transport),
	}
}

// Initiate creates the call record in ringing state. A room whose previous
// call already ended can be reused; an in-flight call refuses a second
// initiation.
func (r *Room) Initiate(callID, callerID, calleeID, callerName string) (*CallState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	if r.state != nil && r.state.Status != StatusEnded {
		return nil, apierrors.New(apierrors.CodeConflict, "call already in progress")
	}
	r.state = &CallState{
		CallID:      callID,
		CallerID:    callerID,
		CalleeID:    calleeID,
		CallerName:  callerName,
		Status:      StatusRinging,
		InitiatedAt: r.now().UnixMilli(),
	}
	// Sessions outside the new participant pair have no standing in this
	// call: pre-initiate attaches and leftovers from the previous call.
	for p, t := range r.sessions {
		if p != callerID && p != calleeID {
			delete(r.sessions, p)
			_ = t.Close()
		}
	}
	r.pending = nil
	r.store.Delete(r.pendingKey())
	r.persistLocked()
	return r.state.clone(), nil
}

// State returns a copy of the current call record.
func (r *Room) State() *CallState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	return r.state.clone()
}

// Attach registers a participant transport. A still-open previous transport
// for the same participant is replaced unconditionally; the newcomer gets a
// call_state snapshot when a live call exists.
func (r *Room) Attach(participant string, t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	if r.state != nil && participant != r.state.CallerID && participant != r.state.CalleeID {
		return apierrors.New(apierrors.CodeForbidden, "not a call participant")
	}
	// Reconnection cancels the grace countdown.
	if r.pending != nil && r.pending.Participant == participant {
		r.pending = nil
		r.store.Delete(r.pendingKey())
	}
	if prev, ok := r.sessions[participant]; ok {
		_ = prev.Close()
	}
	r.sessions[participant] = t
	if r.state != nil && r.state.Status != StatusEnded {
		r.sendLocked(participant, Frame{Type: FrameTypeCallState, State: r.state.clone()})
	}
	return nil
}

// Handle applies one inbound frame from participant p.
func (r *Room) Handle(p string, f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()

	if f.Type == FrameTypePing {
		r.sendLocked(p, Frame{Type: FrameTypePong})
		return
	}
	if r.state == nil || r.state.Status == StatusEnded {
		r.sendLocked(p, Frame{Type: FrameTypeError, Message: "no active call"})
		return
	}
	if p != r.state.CallerID && p != r.state.CalleeID {
		r.sendLocked(p, Frame{Type: FrameTypeError, Message: "not a call participant"})
		return
	}

	switch f.Type {
	case FrameTypeOffer:
		r.forwardLocked(p, Frame{Type: FrameTypeOffer, SDP: f.SDP, From: p})
	case FrameTypeAnswer:
		r.forwardLocked(p, Frame{Type: FrameTypeAnswer, SDP: f.SDP, From: p})
		if r.state.Status == StatusRinging || r.state.Status == StatusConnecting {
			r.state.Status = StatusActive
			r.state.AnsweredAt = r.now().UnixMilli()
			r.persistLocked()
			r.obs.CallSetupLatency(time.Duration(r.state.AnsweredAt-r.state.InitiatedAt) * time.Millisecond)
		}
	case FrameTypeICECandidate:
		r.forwardLocked(p, Frame{Type: FrameTypeICECandidate, Candidate: f.Candidate, From: p})
	case FrameTypeCallAccept:
		if p != r.state.CalleeID {
			r.sendLocked(p, Frame{Type: FrameTypeError, Message: "only the callee can accept"})
			return
		}
		accepted := Frame{Type: FrameTypeCallAccepted, From: p}
		if _, ok := r.sessions[r.state.CallerID]; ok {
			r.sendLocked(r.state.CallerID, accepted)
		} else {
			r.broadcastLocked(accepted, p)
		}
		r.state.Status = StatusConnecting
		r.persistLocked()
	case FrameTypeCallReject:
		r.endLocked("rejected", "", observability.CallEndReasonRejected)
	case FrameTypeCallEnd:
		reason := f.Reason
		if reason == "" {
			reason = "ended"
		}
		r.endLocked(reason, p, observability.CallEndReasonHangup)
	default:
		r.log.Warn().Str("participant", p).Str("type", string(f.Type)).Msg("unknown frame dropped")
	}
}

// Detach removes a participant transport. Clean closes end the call at once;
// abnormal closes start the grace countdown instead.
func (r *Room) Detach(participant string, t Transport, clean bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	// A replaced transport detaching late must not disturb the live one.
	if cur, ok := r.sessions[participant]; !ok || cur != t {
		return
	}
	delete(r.sessions, participant)
	_ = t.Close()
	if r.state == nil || r.state.Status == StatusEnded {
		return
	}
	if clean {
		r.broadcastLocked(Frame{Type: FrameTypeParticipantDisconnected, Participant: participant}, participant)
		r.endLocked("disconnected", participant, observability.CallEndReasonDisconnected)
		return
	}
	r.pending = &pendingDisconnection{
		Participant: participant,
		Deadline:    r.now().Add(GracePeriod).UnixMilli(),
	}
	b, err := json.Marshal(r.pending)
	if err == nil {
		r.store.Set(r.pendingKey(), b, 0)
	}
	r.log.Info().Str("participant", participant).Msg("abnormal close, grace period armed")
}

// Sweep is the durable alarm handler: it finalizes an expired grace period
// and discards calls that rang unanswered past the stale limit. It reports
// whether the room is idle and can be dropped from the registry.
func (r *Room) Sweep() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()

	nowMillis := r.now().UnixMilli()
	if r.pending != nil && nowMillis >= r.pending.Deadline {
		p := r.pending.Participant
		r.pending = nil
		r.store.Delete(r.pendingKey())
		// Only finalize when the participant never came back.
		if _, attached := r.sessions[p]; !attached && r.state != nil && r.state.Status != StatusEnded {
			r.broadcastLocked(Frame{Type: FrameTypeParticipantDisconnected, Participant: p}, p)
			r.endLocked("disconnected", "", observability.CallEndReasonDisconnected)
		}
	}
	if r.state != nil && r.state.Status == StatusRinging && nowMillis-r.state.InitiatedAt > StaleRingTTL.Milliseconds() {
		r.log.Info().Str("call", r.state.CallID).Msg("discarding stale unanswered call")
		r.endLocked("timeout", "", observability.CallEndReasonStaleRing)
	}
	return len(r.sessions) == 0 && (r.state == nil || r.state.Status == StatusEnded)
}

// endLocked drives the terminal transition. Ended is terminal: the durable
// record is discarded after the broadcast.
func (r *Room) endLocked(reason, exclude string, metric observability.CallEndReason) {
	if r.state == nil || r.state.Status == StatusEnded {
		return
	}
	r.state.Status = StatusEnded
	r.state.EndedAt = r.now().UnixMilli()
	r.state.EndReason = reason
	r.broadcastLocked(Frame{Type: FrameTypeCallEnded, Reason: reason, CallState: r.state.clone()}, exclude)
	r.store.Delete(r.stateKey())
	r.store.Delete(r.pendingKey())
	r.pending = nil
	r.obs.CallEnd(metric)
	r.log.Info().Str("call", r.state.CallID).Str("reason", reason).Msg("call ended")
}

// forwardLocked relays a frame to the other participant. Missing peers drop
// the frame; a failed write evicts the dead transport but never ends the
// call.
func (r *Room) forwardLocked(from string, f Frame) {
	for p := range r.sessions {
		if p != from {
			r.sendLocked(p, f)
			return
		}
	}
	r.log.Debug().Str("participant", from).Str("type", string(f.Type)).Msg("no peer to relay to")
}

func (r *Room) broadcastLocked(f Frame, exclude string) {
	for p := range r.sessions {
		if p != exclude {
			r.sendLocked(p, f)
		}
	}
}

func (r *Room) sendLocked(p string, f Frame) {
	t, ok := r.sessions[p]
	if !ok {
		return
	}
	if err := t.Send(f); err != nil {
		r.log.Warn().Str("participant", p).Err(err).Msg("dead transport evicted")
		delete(r.sessions, p)
		_ = t.Close()
	}
}

// loadLocked rehydrates durable state on first touch after construction.
func (r *Room) loadLocked() {
	if r.loaded {
		return
	}
	r.loaded = true
	if b, ok := r.store.Get(r.stateKey()); ok {
		var st CallState
		if err := json.Unmarshal(b, &st); err != nil {
			r.log.Error().Err(err).Msg("corrupt call record, dropping")
			r.store.Delete(r.stateKey())
		} else {
			r.state = &st
		}
	}
	if b, ok := r.store.Get(r.pendingKey()); ok {
		var pd pendingDisconnection
		if err := json.Unmarshal(b, &pd); err != nil {
			r.store.Delete(r.pendingKey())
		} else {
			r.pending = &pd
		}
	}
}

func (r *Room) persistLocked() {
	b, err := json.Marshal(r.state)
	if err != nil {
		r.log.Error().Err(err).Msg("call record marshal failed")
		return
	}
	r.store.Set(r.stateKey(), b, 0)
}

func (r *Room) stateKey() string   { return "call/" + r.id }
func (r *Room) pendingKey() string { return "call/" + r.id + "/pending" }
