package callroom

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/kvstore"
)

type stubResolver map[string]string

func (s stubResolver) Resolve(token string) (string, error) {
	pubkey, ok := s[token]
	if !ok {
		return "", apierrors.ErrUnauthorized
	}
	return pubkey, nil
}

func newTestRegistry(t *testing.T) (*Registry, *httptest.Server) {
	t.Helper()
	store := kvstore.New(0)
	t.Cleanup(store.Close)
	resolver := stubResolver{"tok-caller": caller, "tok-callee": callee}
	reg := NewRegistry(store, resolver, zerolog.Nop(), Options{AllowNoOrigin: true})
	t.Cleanup(reg.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimPrefix(r.URL.Path, "/call/signal/")
		reg.HandleSignal(w, r, roomID)
	}))
	t.Cleanup(srv.Close)
	return reg, srv
}

func dialSignal(t *testing.T, srv *httptest.Server, roomID, participant, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/call/signal/" + roomID + "?participant=" + participant + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", participant, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("decode frame %q: %v", b, err)
	}
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	b, _ := json.Marshal(f)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestHandleSignalRejections(t *testing.T) {
	_, srv := newTestRegistry(t)

	cases := []struct {
		name string
		url  string
		want int
	}{
		{"missing participant", "/call/signal/R1?token=tok-caller", http.StatusBadRequest},
		{"bad token", "/call/signal/R1?participant=" + caller + "&token=nope", http.StatusUnauthorized},
		{"participant mismatch", "/call/signal/R1?participant=" + callee + "&token=tok-caller", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.url)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestSignalEndToEnd(t *testing.T) {
	reg, srv := newTestRegistry(t)

	if _, err := reg.Initiate("R1", "C1", caller, callee, "alice"); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	callerConn := dialSignal(t, srv, "R1", caller, "tok-caller")
	if f := readFrame(t, callerConn); f.Type != FrameTypeCallState || f.State.Status != StatusRinging {
		t.Fatalf("caller snapshot wrong: %+v", f)
	}
	calleeConn := dialSignal(t, srv, "R1", callee, "tok-callee")
	if f := readFrame(t, calleeConn); f.Type != FrameTypeCallState || f.State.Status != StatusRinging {
		t.Fatalf("callee snapshot wrong: %+v", f)
	}

	writeFrame(t, calleeConn, Frame{Type: FrameTypeCallAccept})
	if f := readFrame(t, callerConn); f.Type != FrameTypeCallAccepted || f.From != callee {
		t.Fatalf("caller did not see call_accepted: %+v", f)
	}

	writeFrame(t, callerConn, Frame{Type: FrameTypeOffer, SDP: json.RawMessage(`{"sdp":"v=0"}`)})
	if f := readFrame(t, calleeConn); f.Type != FrameTypeOffer || f.From != caller {
		t.Fatalf("offer not relayed: %+v", f)
	}

	writeFrame(t, callerConn, Frame{Type: FrameTypeCallEnd, Reason: "ended_by_user"})
	if f := readFrame(t, calleeConn); f.Type != FrameTypeCallEnded || f.Reason != "ended_by_user" {
		t.Fatalf("callee did not see call_ended: %+v", f)
	}
}

func TestRegistryRediscoversPersistedRooms(t *testing.T) {
	store := kvstore.New(0)
	t.Cleanup(store.Close)

	reg := NewRegistry(store, stubResolver{}, zerolog.Nop(), Options{AllowNoOrigin: true})
	if _, err := reg.Initiate("R9", "C9", caller, callee, ""); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	reg.Close()

	reg2 := NewRegistry(store, stubResolver{}, zerolog.Nop(), Options{AllowNoOrigin: true})
	t.Cleanup(reg2.Close)
	st := reg2.State("R9")
	if st == nil || st.Status != StatusRinging {
		t.Fatalf("persisted room not rediscovered: %+v", st)
	}
}
