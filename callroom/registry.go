package callroom

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/kvstore"
	"github.com/solink/solink-server/observability"
	"github.com/solink/solink-server/realtime/ws"
)

const (
	defaultSweepInterval = 1 * time.Second
	defaultReadLimit     = 64 * 1024
	defaultAttachRate    = rate.Limit(5)
	defaultAttachBurst   = 10
	sendTimeout          = 5 * time.Second
	limiterMapCap        = 10000
)

// SessionResolver maps a bearer token to the pubkey it was minted for.
type SessionResolver interface {
	Resolve(token string) (string, error)
}

// Options configures a Registry.
type Options struct {
	AllowedOrigins []string
	AllowNoOrigin  bool
	SweepInterval  time.Duration
	AttachRate     rate.Limit // Per-IP websocket attach rate.
	AttachBurst    int
	ReadLimit      int64
	Observer       observability.MessengerObserver
}

// Registry owns all live call rooms and runs the sweep loop that doubles as
// the durable alarm: grace periods and stale rings are finalized here even
// when the triggering room was rebuilt from the store.
type Registry struct {
	store       *kvstore.Store
	log         zerolog.Logger
	obs         observability.MessengerObserver
	sessions    SessionResolver
	now         func() time.Time
	opts        Options
	checkOrigin func(r *http.Request) bool

	mu       sync.Mutex
	rooms    map[string]*Room
	limiters map[string]*rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds the registry, rediscovers persisted call records, and
// starts the sweep loop.
func NewRegistry(store *kvstore.Store, sessions SessionResolver, log zerolog.Logger, opts Options, ropts ...RegistryOption) *Registry {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.AttachRate <= 0 {
		opts.AttachRate = defaultAttachRate
	}
	if opts.AttachBurst <= 0 {
		opts.AttachBurst = defaultAttachBurst
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	obs := opts.Observer
	if obs == nil {
		obs = observability.NoopObserver
	}
	reg := &Registry{
		store:       store,
		log:         log.With().Str("component", "callroom").Logger(),
		obs:         obs,
		sessions:    sessions,
		now:         time.Now,
		opts:        opts,
		checkOrigin: ws.NewOriginChecker(opts.AllowedOrigins, opts.AllowNoOrigin),
		rooms:       make(map[string]*Room),
		limiters:    make(map[string]*rate.Limiter),
		done:        make(chan struct{}),
	}
	for _, o := range ropts {
		o(reg)
	}
	reg.rediscover()
	go reg.sweepLoop()
	return reg
}

// Close stops the sweep loop.
func (reg *Registry) Close() {
	reg.closeOnce.Do(func() { close(reg.done) })
}

// Initiate creates (or reuses an ended) room and puts its call in ringing
// state.
func (reg *Registry) Initiate(roomID, callID, callerID, calleeID, callerName string) (*CallState, error) {
	return reg.room(roomID).Initiate(callID, callerID, calleeID, callerName)
}

// State returns the call record for a room, if any.
func (reg *Registry) State(roomID string) *CallState {
	return reg.room(roomID).State()
}

// HandleSignal upgrades an HTTP request to a signaling stream and pumps
// frames into the room until the transport closes.
func (reg *Registry) HandleSignal(w http.ResponseWriter, r *http.Request, roomID string) {
	participant := r.URL.Query().Get("participant")
	if roomID == "" || participant == "" {
		reg.obs.CallAttach(observability.AttachResultFail, observability.AttachReasonInvalidToken)
		httpError(w, apierrors.New(apierrors.CodeBadRequest, "room and participant required"))
		return
	}
	pubkey, err := reg.sessions.Resolve(signalToken(r))
	if err != nil {
		reg.obs.CallAttach(observability.AttachResultFail, observability.AttachReasonInvalidToken)
		httpError(w, err)
		return
	}
	if pubkey != participant {
		reg.obs.CallAttach(observability.AttachResultFail, observability.AttachReasonNotParticipant)
		httpError(w, apierrors.New(apierrors.CodeForbidden, "participant does not match session"))
		return
	}
	if !reg.allowAttach(remoteHost(r)) {
		reg.obs.CallAttach(observability.AttachResultFail, observability.AttachReasonRateLimited)
		httpError(w, apierrors.New(apierrors.CodeRateLimited, "too many connection attempts"))
		return
	}
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: reg.checkOrigin})
	if err != nil {
		// Upgrade already wrote the HTTP error (origin rejections included).
		reg.obs.CallAttach(observability.AttachResultFail, observability.AttachReasonUpgradeError)
		return
	}
	conn.SetReadLimit(reg.opts.ReadLimit)

	room := reg.room(roomID)
	t := &wsTransport{conn: conn}
	if err := room.Attach(participant, t); err != nil {
		reg.obs.CallAttach(observability.AttachResultFail, observability.AttachReasonNotParticipant)
		_ = conn.CloseWithStatus(websocket.ClosePolicyViolation, apierrors.MessageOf(err))
		return
	}
	reg.obs.CallAttach(observability.AttachResultOK, observability.AttachReasonOK)
	reg.log.Info().Str("room", roomID).Str("participant", participant).Msg("participant attached")

	reg.readLoop(r.Context(), room, participant, t, conn)
}

func (reg *Registry) readLoop(ctx context.Context, room *Room, participant string, t *wsTransport, conn *ws.Conn) {
	for {
		mt, b, err := conn.ReadMessage(ctx)
		if err != nil {
			clean := websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			)
			room.Detach(participant, t, clean)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			_ = t.Send(Frame{Type: FrameTypeError, Message: "malformed frame"})
			continue
		}
		room.Handle(participant, f)
	}
}

// room returns the actor for roomID, creating it on first touch. The actor
// rehydrates any persisted call record itself.
func (reg *Registry) room(roomID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[roomID]
	if !ok {
		room = newRoom(roomID, reg.store, reg.log, reg.obs, reg.now)
		reg.rooms[roomID] = room
	}
	return room
}

// rediscover seeds the registry with rooms whose records survived a restart
// so the sweep loop can finalize them.
func (reg *Registry) rediscover() {
	for _, key := range reg.store.Scan("call/") {
		id := strings.TrimPrefix(key, "call/")
		id = strings.TrimSuffix(id, "/pending")
		if id != "" {
			reg.room(id)
		}
	}
}

func (reg *Registry) sweepLoop() {
	ticker := time.NewTicker(reg.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.done:
			return
		case <-ticker.C:
			reg.sweep()
		}
	}
}

func (reg *Registry) sweep() {
	reg.mu.Lock()
	rooms := make(map[string]*Room, len(reg.rooms))
	for id, room := range reg.rooms {
		rooms[id] = room
	}
	reg.mu.Unlock()

	for id, room := range rooms {
		if room.Sweep() {
			reg.mu.Lock()
			delete(reg.rooms, id)
			reg.mu.Unlock()
		}
	}
	reg.mu.Lock()
	reg.obs.CallRoomCount(len(reg.rooms))
	reg.mu.Unlock()
}

// SweepNow runs one sweep pass synchronously.
func (reg *Registry) SweepNow() {
	reg.sweep()
}

func (reg *Registry) allowAttach(host string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.limiters) > limiterMapCap {
		reg.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := reg.limiters[host]
	if !ok {
		l = rate.NewLimiter(reg.opts.AttachRate, reg.opts.AttachBurst)
		reg.limiters[host] = l
	}
	return l.Allow()
}

// signalToken pulls the session token from the Authorization header or,
// since browser websockets cannot set headers, the token query parameter.
func signalToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func httpError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierrors.HTTPStatus(apierrors.CodeOf(err)))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apierrors.MessageOf(err)})
}

// wsTransport adapts a websocket connection to the room Transport. Writes
// are serialized; the room may call Send from several request goroutines.
type wsTransport struct {
	conn *ws.Conn
	mu   sync.Mutex
}

func (t *wsTransport) Send(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return t.conn.WriteMessage(ctx, websocket.TextMessage, b)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
