package observability

import "time"

type AuthResult string

const (
	AuthResultOK   AuthResult = "ok"
	AuthResultFail AuthResult = "fail"
)

type AuthReason string

const (
	AuthReasonOK              AuthReason = "ok"
	AuthReasonInvalidIdentity AuthReason = "invalid_identity"
	AuthReasonVerifyFailed    AuthReason = "verify_failed"
	AuthReasonSessionExpired  AuthReason = "session_expired"
	AuthReasonMissingToken    AuthReason = "missing_token"
)

type AttachResult string

const (
	AttachResultOK   AttachResult = "ok"
	AttachResultFail AttachResult = "fail"
)

type AttachReason string

const (
	AttachReasonOK             AttachReason = "ok"
	AttachReasonUpgradeError   AttachReason = "upgrade_error"
	AttachReasonInvalidToken   AttachReason = "invalid_token"
	AttachReasonNotParticipant AttachReason = "not_participant"
	AttachReasonRateLimited    AttachReason = "rate_limited"
)

type CallEndReason string

const (
	CallEndReasonHangup       CallEndReason = "hangup"
	CallEndReasonRejected     CallEndReason = "rejected"
	CallEndReasonDisconnected CallEndReason = "disconnected"
	CallEndReasonStaleRing    CallEndReason = "stale_ring"
)

type PushResult string

const (
	PushResultOK       PushResult = "ok"
	PushResultError    PushResult = "error"
	PushResultDisabled PushResult = "disabled"
)

// MessengerObserver receives server-level metric events.
type MessengerObserver interface {
	CallRoomCount(n int)
	Auth(result AuthResult, reason AuthReason)
	MessageStored()
	MessageAcked(n int)
	RateLimited(bucket string)
	CallAttach(result AttachResult, reason AttachReason)
	CallEnd(reason CallEndReason)
	CallSetupLatency(d time.Duration)
	PushPublish(result PushResult)
}

type noopObserver struct{}

func (noopObserver) CallRoomCount(int)                     {}
func (noopObserver) Auth(AuthResult, AuthReason)           {}
func (noopObserver) MessageStored()                        {}
func (noopObserver) MessageAcked(int)                      {}
func (noopObserver) RateLimited(string)                    {}
func (noopObserver) CallAttach(AttachResult, AttachReason) {}
func (noopObserver) CallEnd(CallEndReason)                 {}
func (noopObserver) CallSetupLatency(time.Duration)        {}
func (noopObserver) PushPublish(PushResult)                {}

// NoopObserver is a zero-cost observer used when metrics are disabled.
var NoopObserver MessengerObserver = noopObserver{}
