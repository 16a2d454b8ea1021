// Package blobstore holds opaque ciphertext blobs with structured metadata:
// voice clips keyed by recipient and message, and chat backups keyed by
// owner and contact. Contents are never inspected.
package blobstore

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/kvstore"
)

// MaxBlobSize caps uploads at 50 MiB.
const MaxBlobSize = 50 << 20

// VoiceRecord is a stored voice clip and its routing metadata.
type VoiceRecord struct {
	SenderPubkey    string  `json:"senderPubkey"`
	RecipientPubkey string  `json:"recipientPubkey"`
	MessageID       string  `json:"messageId"`
	Duration        float64 `json:"duration,omitempty"`
	MimeType        string  `json:"mimeType,omitempty"`
	UploadedAt      int64   `json:"uploadedAt"` // Unix millis.
	Size            int     `json:"size"`
	Version         int     `json:"version"`
	Data            []byte  `json:"data"`
}

// BackupRecord is an encrypted per-contact chat backup.
type BackupRecord struct {
	Owner      string `json:"owner"`
	ContactKey string `json:"contactKey"`
	UpdatedAt  int64  `json:"updatedAt"` // Unix millis.
	Size       int    `json:"size"`
	Version    int    `json:"version"`
	Encrypted  string `json:"encrypted"`
}

// Store reads and writes blobs against the shared key-value layer.
type Store struct {
	kv  *kvstore.Store
	log zerolog.Logger
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a blob store backed by kv.
func New(kv *kvstore.Store, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		kv:  kv,
		log: log.With().Str("component", "blobstore").Logger(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VoiceKey returns the canonical handle for a voice clip.
func VoiceKey(recipient, messageID string) string {
	return "voice/" + recipient + "/" + messageID
}

// PutVoice stores a voice clip uploaded by sender for recipient.
func (s *Store) PutVoice(sender, recipient, messageID string, data []byte, duration float64, mimeType string) (string, error) {
	if messageID == "" {
		return "", apierrors.New(apierrors.CodeBadRequest, "missing messageId")
	}
	if len(data) == 0 {
		return "", apierrors.New(apierrors.CodeBadRequest, "missing audio payload")
	}
	if len(data) > MaxBlobSize {
		return "", apierrors.New(apierrors.CodeTooLarge, "voice payload exceeds cap")
	}
	rec := VoiceRecord{
		SenderPubkey:    sender,
		RecipientPubkey: recipient,
		MessageID:       messageID,
		Duration:        duration,
		MimeType:        mimeType,
		UploadedAt:      s.now().UnixMilli(),
		Size:            len(data),
		Version:         1,
		Data:            data,
	}
	key := VoiceKey(recipient, messageID)
	if err := s.put(key, rec); err != nil {
		return "", err
	}
	return key, nil
}

// GetVoice returns a voice clip. Only the sender or the recipient recorded
// in the metadata may read it.
func (s *Store) GetVoice(caller, recipient, messageID string) (VoiceRecord, error) {
	b, ok := s.kv.Get(VoiceKey(recipient, messageID))
	if !ok {
		return VoiceRecord{}, apierrors.New(apierrors.CodeNotFound, "voice message not found")
	}
	var rec VoiceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return VoiceRecord{}, apierrors.Wrap(apierrors.CodeInternal, "voice read failed", err)
	}
	if caller != rec.SenderPubkey && caller != rec.RecipientPubkey {
		return VoiceRecord{}, apierrors.New(apierrors.CodeForbidden, "not a participant")
	}
	return rec, nil
}

// DeleteVoice removes a voice clip. Only the recipient may delete.
func (s *Store) DeleteVoice(caller, recipient, messageID string) error {
	b, ok := s.kv.Get(VoiceKey(recipient, messageID))
	if !ok {
		return apierrors.New(apierrors.CodeNotFound, "voice message not found")
	}
	var rec VoiceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "voice read failed", err)
	}
	if caller != rec.RecipientPubkey {
		return apierrors.New(apierrors.CodeForbidden, "not the recipient")
	}
	s.kv.Delete(VoiceKey(recipient, messageID))
	return nil
}

// PutBackup stores an encrypted chat backup for one owner/contact pair.
// Ownership is structural: the key embeds the caller's identity.
func (s *Store) PutBackup(owner, contactKey, encrypted string) (string, error) {
	if contactKey == "" {
		return "", apierrors.New(apierrors.CodeBadRequest, "missing contact key")
	}
	if encrypted == "" {
		return "", apierrors.New(apierrors.CodeBadRequest, "missing encrypted payload")
	}
	if len(encrypted) > MaxBlobSize {
		return "", apierrors.New(apierrors.CodeTooLarge, "backup exceeds cap")
	}
	rec := BackupRecord{
		Owner:      owner,
		ContactKey: contactKey,
		UpdatedAt:  s.now().UnixMilli(),
		Size:       len(encrypted),
		Version:    1,
		Encrypted:  encrypted,
	}
	key := backupKey(owner, contactKey)
	if err := s.put(key, rec); err != nil {
		return "", err
	}
	return key, nil
}

// GetBackup returns the owner's backup for a contact, or ok=false.
func (s *Store) GetBackup(owner, contactKey string) (BackupRecord, bool, error) {
	b, ok := s.kv.Get(backupKey(owner, contactKey))
	if !ok {
		return BackupRecord{}, false, nil
	}
	var rec BackupRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return BackupRecord{}, false, apierrors.Wrap(apierrors.CodeInternal, "backup read failed", err)
	}
	return rec, true, nil
}

// DeleteBackup removes the owner's backup for a contact.
func (s *Store) DeleteBackup(owner, contactKey string) {
	s.kv.Delete(backupKey(owner, contactKey))
}

func (s *Store) put(key string, rec any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "blob write failed", err)
	}
	s.kv.Set(key, b, 0)
	return nil
}

func backupKey(owner, contactKey string) string {
	return "backup/" + owner + "/" + contactKey
}
