package inbox

import (
	"encoding/json"

	"github.com/solink/solink-server/apierrors"
)

// MaxTextLength bounds plaintext message bodies.
const MaxTextLength = 1024

// Envelope is one inbox element. Apart from routing metadata the payload is
// opaque to the server: either a plaintext text (legacy clients), a
// ciphertext+nonce pair, or a voice-blob handle must be present.
type Envelope struct {
	ID                  string          `json:"id"`
	From                string          `json:"from"`
	To                  string          `json:"to"`
	Text                string          `json:"text,omitempty"`
	Ciphertext          string          `json:"ciphertext,omitempty"`
	Nonce               string          `json:"nonce,omitempty"`
	EncryptionVersion   int             `json:"encryptionVersion,omitempty"`
	Timestamp           int64           `json:"timestamp"` // Unix millis.
	SenderNickname      string          `json:"senderNickname,omitempty"`
	SenderDisplayName   string          `json:"senderDisplayName,omitempty"`
	SenderEncryptionKey string          `json:"senderEncryptionKey,omitempty"`
	TokenPreview        json.RawMessage `json:"tokenPreview,omitempty"`
	VoiceKey            string          `json:"voiceKey,omitempty"`
	VoiceDuration       float64         `json:"voiceDuration,omitempty"`
	VoiceNonce          string          `json:"voiceNonce,omitempty"`
	VoiceMimeType       string          `json:"voiceMimeType,omitempty"`
	VoiceWaveform       json.RawMessage `json:"voiceWaveform,omitempty"`
	ExpiresAt           int64           `json:"expiresAt"` // Unix millis.
}

// Validate checks the envelope shape before it enters a queue.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return apierrors.New(apierrors.CodeBadRequest, "envelope id required")
	}
	if e.Text == "" && (e.Ciphertext == "" || e.Nonce == "") && e.VoiceKey == "" {
		return apierrors.New(apierrors.CodeBadRequest, "message content required")
	}
	if len(e.Text) > MaxTextLength {
		return apierrors.New(apierrors.CodeBadRequest, "text exceeds 1024 characters")
	}
	return nil
}
