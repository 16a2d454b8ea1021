package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solink/solink-server/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports messenger metrics to Prometheus.
type Observer struct {
	callRoomGauge    prometheus.Gauge
	authTotal        *prometheus.CounterVec
	messagesStored   prometheus.Counter
	messagesAcked    prometheus.Counter
	rateLimitedTotal *prometheus.CounterVec
	callAttachTotal  *prometheus.CounterVec
	callEndTotal     *prometheus.CounterVec
	callSetupLatency prometheus.Histogram
	pushTotal        *prometheus.CounterVec
}

// NewObserver registers messenger metrics on the registry.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		callRoomGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solink_call_rooms",
			Help: "Current active call room count.",
		}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solink_auth_total",
			Help: "Authentication attempts by result and reason.",
		}, []string{"result", "reason"}),
		messagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solink_messages_stored_total",
			Help: "Envelopes accepted into inbox queues.",
		}),
		messagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solink_messages_acked_total",
			Help: "Envelopes removed from inbox queues by acknowledgment.",
		}),
		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solink_rate_limited_total",
			Help: "Requests denied by the fixed-window rate limiter.",
		}, []string{"bucket"}),
		callAttachTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solink_call_attach_total",
			Help: "Call room attach attempts by result and reason.",
		}, []string{"result", "reason"}),
		callEndTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solink_call_end_total",
			Help: "Call terminations by reason.",
		}, []string{"reason"}),
		callSetupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solink_call_setup_latency_seconds",
			Help:    "Latency from ringing to an active call.",
			Buckets: prometheus.DefBuckets,
		}),
		pushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solink_push_publish_total",
			Help: "Push notification publish outcomes.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		o.callRoomGauge,
		o.authTotal,
		o.messagesStored,
		o.messagesAcked,
		o.rateLimitedTotal,
		o.callAttachTotal,
		o.callEndTotal,
		o.callSetupLatency,
		o.pushTotal,
	)
	return o
}

func (o *Observer) CallRoomCount(n int) {
	o.callRoomGauge.Set(float64(n))
}

func (o *Observer) Auth(result observability.AuthResult, reason observability.AuthReason) {
	o.authTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *Observer) MessageStored() {
	o.messagesStored.Inc()
}

func (o *Observer) MessageAcked(n int) {
	o.messagesAcked.Add(float64(n))
}

func (o *Observer) RateLimited(bucket string) {
	o.rateLimitedTotal.WithLabelValues(bucket).Inc()
}

func (o *Observer) CallAttach(result observability.AttachResult, reason observability.AttachReason) {
	o.callAttachTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *Observer) CallEnd(reason observability.CallEndReason) {
	o.callEndTotal.WithLabelValues(string(reason)).Inc()
}

func (o *Observer) CallSetupLatency(d time.Duration) {
	o.callSetupLatency.Observe(d.Seconds())
}

func (o *Observer) PushPublish(result observability.PushResult) {
	o.pushTotal.WithLabelValues(string(result)).Inc()
}
