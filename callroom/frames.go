package callroom

import "encoding/json"

// FrameType discriminates signaling frames on the wire.
type FrameType string

const (
	FrameTypePing                    FrameType = "ping"
	FrameTypePong                    FrameType = "pong"
	FrameTypeOffer                   FrameType = "offer"
	FrameTypeAnswer                  FrameType = "answer"
	FrameTypeICECandidate            FrameType = "ice_candidate"
	FrameTypeCallAccept              FrameType = "call_accept"
	FrameTypeCallAccepted            FrameType = "call_accepted"
	FrameTypeCallReject              FrameType = "call_reject"
	FrameTypeCallEnd                 FrameType = "call_end"
	FrameTypeCallEnded               FrameType = "call_ended"
	FrameTypeCallState               FrameType = "call_state"
	FrameTypeParticipantDisconnected FrameType = "participant_disconnected"
	FrameTypeError                   FrameType = "error"
)

// Frame is the JSON tagged union exchanged over a signaling stream. SDP and
// candidate payloads are raw so relays stay byte-identical.
type Frame struct {
	Type        FrameType       `json:"type"`
	SDP         json.RawMessage `json:"sdp,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	From        string          `json:"from,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	State       *CallState      `json:"state,omitempty"`
	CallState   *CallState      `json:"callState,omitempty"`
	Participant string          `json:"participant,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Status is the lifecycle position of a call.
type Status string

const (
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
)

// CallState is the durable record of one call.
type CallState struct {
	CallID      string `json:"callId"`
	CallerID    string `json:"callerId"`
	CalleeID    string `json:"calleeId"`
	CallerName  string `json:"callerName,omitempty"`
	Status      Status `json:"status"`
	InitiatedAt int64  `json:"initiatedAt"` // Unix millis.
	AnsweredAt  int64  `json:"answeredAt,omitempty"`
	EndedAt     int64  `json:"endedAt,omitempty"`
	EndReason   string `json:"endReason,omitempty"`
}

func (s *CallState) clone() *CallState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
