// Package metrics implements session.Metrics on top of
// prometheus/client_golang, modeled on the teacher's pkg/metrics/prometheus
// registries: one struct holding pre-registered collectors, constructed
// once per process and handed to every Session.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ninep-go/ninepd/internal/ninepfs/session"
	"github.com/ninep-go/ninepd/internal/wire"
)

var _ session.Metrics = (*Registry)(nil)

// Registry collects the counters named in this server's external
// interfaces: messages in/out, errors, bytes in/out, active/total sessions,
// plus a per-message-type latency histogram the teacher's NFS metrics don't
// carry but a tag-correlated protocol like 9P benefits from.
type Registry struct {
	gatherer prometheus.Gatherer

	messagesTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
	sessionsTotal   prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	messageDuration *prometheus.HistogramVec

	// Plain counters mirroring the Prometheus collectors above, cheap to
	// read back synchronously for the control plane's /stats endpoint
	// rather than scraping the /metrics text exposition format.
	messagesSeen atomic.Uint64
	errorsSeen   atomic.Uint64
	bytesInRead  atomic.Uint64
	bytesOutW    atomic.Uint64
}

// Snapshot is a point-in-time read of the counters Snapshot exposes to the
// control plane, independent of Prometheus's own scrape cycle.
type Snapshot struct {
	MessagesTotal uint64
	ErrorsTotal   uint64
	BytesIn       uint64
	BytesOut      uint64
}

// Snapshot returns the current counter values.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		MessagesTotal: r.messagesSeen.Load(),
		ErrorsTotal:   r.errorsSeen.Load(),
		BytesIn:       r.bytesInRead.Load(),
		BytesOut:      r.bytesOutW.Load(),
	}
}

// RegistererGatherer is satisfied by *prometheus.Registry: every collector
// this package registers must be readable back through the same instance
// passed to Handler, or /metrics would scrape an unrelated registry.
type RegistererGatherer interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// New creates and registers a Registry against reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer/prometheus.DefaultGatherer wrapped together
// to use the process-global default.
func New(reg RegistererGatherer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		gatherer: reg,
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ninepd",
			Name:      "messages_total",
			Help:      "Total 9P messages processed, by message type.",
		}, []string{"type"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ninepd",
			Name:      "errors_total",
			Help:      "Total Rerror replies emitted, by originating message type.",
		}, []string{"type"}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ninepd",
			Name:      "bytes_in_total",
			Help:      "Total bytes read from client connections.",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ninepd",
			Name:      "bytes_out_total",
			Help:      "Total bytes written to client connections.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ninepd",
			Name:      "sessions_opened_total",
			Help:      "Total sessions accepted.",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ninepd",
			Name:      "sessions_closed_total",
			Help:      "Total sessions closed, by terminal state.",
		}, []string{"reason"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ninepd",
			Name:      "sessions_active",
			Help:      "Currently open sessions.",
		}),
		messageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ninepd",
			Name:      "message_duration_seconds",
			Help:      "Dispatch latency per message type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// RecordMessage implements session.Metrics.
func (r *Registry) RecordMessage(msgType wire.MessageType, bytesIn, bytesOut int) {
	r.messagesTotal.WithLabelValues(msgType.String()).Inc()
	r.bytesIn.Add(float64(bytesIn))
	r.bytesOut.Add(float64(bytesOut))

	r.messagesSeen.Add(1)
	r.bytesInRead.Add(uint64(bytesIn))
	r.bytesOutW.Add(uint64(bytesOut))
}

// RecordError implements session.Metrics.
func (r *Registry) RecordError(msgType wire.MessageType) {
	r.errorsTotal.WithLabelValues(msgType.String()).Inc()
	r.errorsSeen.Add(1)
}

// SessionOpened implements session.Metrics.
func (r *Registry) SessionOpened() {
	r.sessionsTotal.Inc()
	r.sessionsActive.Inc()
}

// SessionClosed implements session.Metrics.
func (r *Registry) SessionClosed(reason string) {
	r.sessionsClosed.WithLabelValues(reason).Inc()
	r.sessionsActive.Dec()
}

// ObserveDispatch records how long one message took to handle, for callers
// that want finer-grained latency than RecordMessage alone provides.
func (r *Registry) ObserveDispatch(msgType wire.MessageType, seconds float64) {
	r.messageDuration.WithLabelValues(msgType.String()).Observe(seconds)
}

// Handler returns the HTTP handler to mount at /metrics, scraping the same
// registry this Registry's collectors were registered against.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
