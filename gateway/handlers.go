package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/directory"
	"github.com/solink/solink-server/identity"
	"github.com/solink/solink-server/inbox"
	"github.com/solink/solink-server/observability"
)

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	pubkey := r.URL.Query().Get("pubkey")
	if pubkey == "" {
		s.writeError(w, apierrors.New(apierrors.CodeBadRequest, "pubkey required"))
		return
	}
	ch, err := s.auth.IssueNonce(pubkey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"nonce":     ch.Nonce,
		"expiresAt": ch.ExpiresAt,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pubkey     string `json:"pubkey"`
		Nonce      string `json:"nonce"`
		Signature  string `json:"signature"`
		SessionTTL int    `json:"sessionTtl"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.auth.Verify(req.Pubkey, req.Nonce, req.Signature, req.SessionTTL)
	if err != nil {
		s.obs.Auth(observability.AuthResultFail, observability.AuthReasonVerifyFailed)
		s.writeError(w, err)
		return
	}
	canonical, err := identity.Normalize(req.Pubkey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.obs.Auth(observability.AuthResultOK, observability.AuthReasonOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  map[string]string{"pubkey": canonical},
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sender := callerIdentity(r)
	var req struct {
		To                  string          `json:"to"`
		Text                string          `json:"text"`
		Ciphertext          string          `json:"ciphertext"`
		Nonce               string          `json:"nonce"`
		Version             int             `json:"version"`
		Timestamp           int64           `json:"timestamp"`
		TokenPreview        json.RawMessage `json:"tokenPreview"`
		SenderEncryptionKey string          `json:"senderEncryptionKey"`
		VoiceKey            string          `json:"voiceKey"`
		VoiceDuration       float64         `json:"voiceDuration"`
		VoiceNonce          string          `json:"voiceNonce"`
		VoiceMimeType       string          `json:"voiceMimeType"`
		VoiceWaveform       json.RawMessage `json:"voiceWaveform"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	to, err := identity.Normalize(req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.limiter.Allow(sender, "send") {
		s.obs.RateLimited("send")
		s.writeError(w, apierrors.New(apierrors.CodeRateLimited, "message rate limit exceeded"))
		return
	}

	env := inbox.Envelope{
		ID:                  uuid.NewString(),
		From:                sender,
		To:                  to,
		Text:                req.Text,
		Ciphertext:          req.Ciphertext,
		Nonce:               req.Nonce,
		EncryptionVersion:   req.Version,
		Timestamp:           req.Timestamp,
		TokenPreview:        req.TokenPreview,
		SenderEncryptionKey: req.SenderEncryptionKey,
		VoiceKey:            req.VoiceKey,
		VoiceDuration:       req.VoiceDuration,
		VoiceNonce:          req.VoiceNonce,
		VoiceMimeType:       req.VoiceMimeType,
		VoiceWaveform:       req.VoiceWaveform,
	}
	if env.Timestamp == 0 {
		env.Timestamp = s.now().UnixMilli()
	}
	// Sender directory fields ride along so the recipient can render the
	// message without an extra lookup. A client-supplied encryption key wins
	// over the profile value.
	if p, err := s.dir.LookupByPubkey(sender); err == nil {
		env.SenderNickname = p.Nickname
		env.SenderDisplayName = p.DisplayName
		if env.SenderEncryptionKey == "" {
			env.SenderEncryptionKey = p.EncryptionPublicKey
		}
	}
	if err := s.inbox.Store(to, env); err != nil {
		s.writeError(w, err)
		return
	}
	s.obs.MessageStored()
	if s.push != nil {
		s.push.Notify(to, "message", map[string]string{"from": sender, "messageId": env.ID})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "messageId": env.ID})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	me := callerIdentity(r)
	wait := time.Duration(0)
	if raw := r.URL.Query().Get("wait"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			s.writeError(w, apierrors.New(apierrors.CodeBadRequest, "wait must be a non-negative integer"))
			return
		}
		wait = time.Duration(ms) * time.Millisecond
		if wait > maxPollWait {
			wait = maxPollWait
		}
	}

	deadline := s.now().Add(wait)
	for {
		msgs, err := s.inbox.Pull(me, inbox.MaxPull)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if len(msgs) > 0 || wait == 0 || !s.now().Before(deadline) {
			if msgs == nil {
				msgs = []inbox.Envelope{}
			}
			s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
			return
		}
		select {
		case <-r.Context().Done():
			// Client went away; nothing useful to write.
			return
		case <-time.After(pollInterval):
		}
	}
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	me := callerIdentity(r)
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.inbox.Ack(me, req.IDs); err != nil {
		s.writeError(w, err)
		return
	}
	s.obs.MessageAcked(len(req.IDs))
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleProfileMe(w http.ResponseWriter, r *http.Request) {
	p, err := s.dir.GetOwn(callerIdentity(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeProfile(w, p)
}

func (s *Server) handleSetNickname(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.dir.SetNickname(callerIdentity(r), req.Nickname)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeProfile(w, p)
}

func (s *Server) handleSetEncryptionKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey string `json:"publicKey"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.dir.SetEncryptionKey(callerIdentity(r), req.PublicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeProfile(w, p)
}

func (s *Server) handleLookupNickname(w http.ResponseWriter, r *http.Request) {
	p, err := s.dir.LookupByNickname(r.URL.Query().Get("nickname"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeProfile(w, p)
}

func (s *Server) handleLookupPubkey(w http.ResponseWriter, r *http.Request) {
	pubkey, err := identity.Normalize(r.URL.Query().Get("pubkey"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.dir.LookupByPubkey(pubkey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeProfile(w, p)
}

func (s *Server) writeProfile(w http.ResponseWriter, p directory.Profile) {
	s.writeJSON(w, http.StatusOK, map[string]any{"profile": p})
}

func (s *Server) handleSyncPut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Encrypted string `json:"encrypted"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	key, err := s.blobs.PutBackup(callerIdentity(r), r.PathValue("contactKey"), req.Encrypted)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

func (s *Server) handleSyncGet(w http.ResponseWriter, r *http.Request) {
	rec, found, err := s.blobs.GetBackup(callerIdentity(r), r.PathValue("contactKey"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"found":     true,
		"encrypted": rec.Encrypted,
		"updatedAt": rec.UpdatedAt,
	})
}

func (s *Server) handleSyncDelete(w http.ResponseWriter, r *http.Request) {
	s.blobs.DeleteBackup(callerIdentity(r), r.PathValue("contactKey"))
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleVoiceUpload(w http.ResponseWriter, r *http.Request) {
	me := callerIdentity(r)
	var req struct {
		RecipientPubkey string  `json:"recipientPubkey"`
		MessageID       string  `json:"messageId"`
		EncryptedAudio  string  `json:"encryptedAudio"`
		Duration        float64 `json:"duration"`
		MimeType        string  `json:"mimeType"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	recipient, err := identity.Normalize(req.RecipientPubkey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.limiter.Allow(me, "voice") {
		s.obs.RateLimited("voice")
		s.writeError(w, apierrors.New(apierrors.CodeRateLimited, "voice upload rate limit exceeded"))
		return
	}
	key, err := s.blobs.PutVoice(me, recipient, req.MessageID, []byte(req.EncryptedAudio), req.Duration, req.MimeType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"voiceKey": key,
		"size":     len(req.EncryptedAudio),
	})
}

func (s *Server) handleVoiceGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.blobs.GetVoice(callerIdentity(r), r.PathValue("recipient"), r.PathValue("messageId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"found":          true,
		"encryptedAudio": string(rec.Data),
		"duration":       rec.Duration,
		"mimeType":       rec.MimeType,
		"senderPubkey":   rec.SenderPubkey,
	})
}

func (s *Server) handleCallInitiate(w http.ResponseWriter, r *http.Request) {
	me := callerIdentity(r)
	var req struct {
		CalleeID   string `json:"calleeId"`
		RoomID     string `json:"roomId"`
		CallerName string `json:"callerName"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	callee, err := identity.Normalize(req.CalleeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = uuid.NewString()
	}
	state, err := s.calls.Initiate(roomID, uuid.NewString(), me, callee, req.CallerName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.push != nil {
		s.push.Notify(callee, "call", state)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"roomId":    roomID,
		"callState": state,
	})
}
