// Package gateway exposes the HTTP API: challenge/response auth, message
// send/poll/ack, profile directory, encrypted sync and voice blobs, and the
// call signaling endpoints. Handlers validate and route; all state lives in
// the service packages.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/auth"
	"github.com/solink/solink-server/blobstore"
	"github.com/solink/solink-server/callroom"
	"github.com/solink/solink-server/directory"
	"github.com/solink/solink-server/inbox"
	"github.com/solink/solink-server/observability"
	"github.com/solink/solink-server/push"
	"github.com/solink/solink-server/ratelimit"
	"github.com/solink/solink-server/realtime/ws"
)

const (
	// pollInterval is how often a long poll re-checks the inbox.
	pollInterval = 800 * time.Millisecond

	// maxPollWait caps how long a single poll request may hold its
	// connection.
	maxPollWait = 15 * time.Second

	maxBodyBytes = 64 << 20 // Voice uploads dominate; the blob cap is enforced downstream.
)

// Options wires the gateway to its services.
type Options struct {
	Auth           *auth.Service
	Directory      *directory.Directory
	Inbox          *inbox.Service
	Limiter        *ratelimit.Limiter
	Blobs          *blobstore.Store
	Calls          *callroom.Registry
	Push           *push.Notifier
	AllowedOrigins []string
	Metrics        http.Handler
	Observer       observability.MessengerObserver
}

// Server is the HTTP gateway.
type Server struct {
	log            zerolog.Logger
	obs            observability.MessengerObserver
	auth           *auth.Service
	dir            *directory.Directory
	inbox          *inbox.Service
	limiter        *ratelimit.Limiter
	blobs          *blobstore.Store
	calls          *callroom.Registry
	push           *push.Notifier
	allowedOrigins []string
	metrics        http.Handler
	now            func() time.Time
}

// New builds a gateway server.
func New(log zerolog.Logger, opts Options) *Server {
	obs := opts.Observer
	if obs == nil {
		obs = observability.NoopObserver
	}
	return &Server{
		log:            log.With().Str("component", "gateway").Logger(),
		obs:            obs,
		auth:           opts.Auth,
		dir:            opts.Directory,
		inbox:          opts.Inbox,
		limiter:        opts.Limiter,
		blobs:          opts.Blobs,
		calls:          opts.Calls,
		push:           opts.Push,
		allowedOrigins: opts.AllowedOrigins,
		metrics:        opts.Metrics,
		now:            time.Now,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("GET /auth/nonce", s.handleNonce)
	mux.HandleFunc("POST /auth/verify", s.handleVerify)

	mux.HandleFunc("POST /messages/send", s.requireAuth(s.handleSend))
	mux.HandleFunc("GET /inbox/poll", s.requireAuth(s.handlePoll))
	mux.HandleFunc("POST /messages/ack", s.requireAuth(s.handleAck))

	mux.HandleFunc("GET /profile/me", s.requireAuth(s.handleProfileMe))
	mux.HandleFunc("POST /profile/nickname", s.requireAuth(s.handleSetNickname))
	mux.HandleFunc("POST /profile/encryption-key", s.requireAuth(s.handleSetEncryptionKey))
	mux.HandleFunc("GET /profile/lookup", s.handleLookupNickname)
	mux.HandleFunc("GET /profile/by-key", s.handleLookupPubkey)

	mux.HandleFunc("PUT /sync/chat/{contactKey}", s.requireAuth(s.handleSyncPut))
	mux.HandleFunc("GET /sync/chat/{contactKey}", s.requireAuth(s.handleSyncGet))
	mux.HandleFunc("DELETE /sync/chat/{contactKey}", s.requireAuth(s.handleSyncDelete))

	mux.HandleFunc("POST /voice/upload", s.requireAuth(s.handleVoiceUpload))
	mux.HandleFunc("GET /voice/{recipient}/{messageId}", s.requireAuth(s.handleVoiceGet))

	mux.HandleFunc("POST /call/initiate", s.requireAuth(s.handleCallInitiate))
	mux.HandleFunc("GET /call/signal/{roomId}", func(w http.ResponseWriter, r *http.Request) {
		s.calls.HandleSignal(w, r, r.PathValue("roomId"))
	})

	return s.cors(mux)
}

// cors mirrors allowed origins back and answers preflights. Loopback origins
// pass on any port so local development needs no configuration.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(r, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(r *http.Request, origin string) bool {
	if ws.IsLoopbackOrigin(origin) {
		return true
	}
	return ws.IsOriginAllowed(r, s.allowedOrigins, false)
}

type ctxKey int

const identityKey ctxKey = iota

// requireAuth resolves the bearer token and stows the caller identity in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		pubkey, err := s.auth.Resolve(token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, pubkey)))
	}
}

func callerIdentity(r *http.Request) string {
	pubkey, _ := r.Context().Value(identityKey).(string)
	return pubkey
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apierrors.Wrap(apierrors.CodeBadRequest, "invalid json body", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response write failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apierrors.CodeOf(err)
	if code == apierrors.CodeInternal {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, apierrors.HTTPStatus(code), map[string]string{"error": apierrors.MessageOf(err)})
}
