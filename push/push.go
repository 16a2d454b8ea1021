// Package push publishes best-effort wake-up events over NATS. Delivery is
// advisory: clients still poll their inbox, so publish failures are logged
// and swallowed, never surfaced to the request path.
package push

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/solink/solink-server/observability"
)

const subjectPrefix = "solink.push."

// Event is one wake-up notification.
type Event struct {
	Type      string          `json:"type"` // "message" or "call".
	Recipient string          `json:"recipient"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SentAt    int64           `json:"sentAt"` // Unix millis.
}

// Notifier publishes events for one recipient subject each. A Notifier built
// without a NATS URL is disabled and publishes nothing.
type Notifier struct {
	nc  *nats.Conn
	log zerolog.Logger
	obs observability.MessengerObserver
}

// New connects to NATS. An empty URL returns a disabled notifier.
func New(url string, log zerolog.Logger, obs observability.MessengerObserver) (*Notifier, error) {
	n := &Notifier{
		log: log.With().Str("component", "push").Logger(),
		obs: obs,
	}
	if obs == nil {
		n.obs = observability.NoopObserver
	}
	if url == "" {
		n.log.Info().Msg("push disabled, no nats url configured")
		return n, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("solink-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			n.log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	n.nc = nc
	return n, nil
}

// Notify publishes one event to the recipient's subject. Best effort.
func (n *Notifier) Notify(recipient, eventType string, payload any) {
	if n.nc == nil {
		n.obs.PushPublish(observability.PushResultDisabled)
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn().Err(err).Msg("push payload marshal failed")
		n.obs.PushPublish(observability.PushResultError)
		return
	}
	ev := Event{
		Type:      eventType,
		Recipient: recipient,
		Payload:   raw,
		SentAt:    time.Now().UnixMilli(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		n.obs.PushPublish(observability.PushResultError)
		return
	}
	if err := n.nc.Publish(subjectPrefix+recipient, b); err != nil {
		n.log.Warn().Str("recipient", recipient).Err(err).Msg("push publish failed")
		n.obs.PushPublish(observability.PushResultError)
		return
	}
	n.obs.PushPublish(observability.PushResultOK)
}

// Close drains the connection.
func (n *Notifier) Close() {
	if n.nc == nil {
		return
	}
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
	}
}
