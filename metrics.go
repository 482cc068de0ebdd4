package relay

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusRegisterer is the narrow interface Options stores; it is
// satisfied by *prometheus.Registry and prometheus.DefaultRegisterer.
type prometheusRegisterer = prometheus.Registerer

// WithMetrics wires a prometheus.Registerer into the client so connection
// and JetStream operations are observed: typed counters behind a small
// interface, with an optional Prometheus mirror. Absent a registerer,
// every metrics call here is a nil-safe no-op.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) error { o.registerer = reg; return nil }
}

// clientMetrics holds the connection-level counters this client exposes.
// Connect constructs it only if a registerer was supplied; otherwise it
// is nil.
type clientMetrics struct {
	reconnects    prometheus.Counter
	pings         prometheus.Counter
	pingTimeouts  prometheus.Counter
	jsAPIErrors   *prometheus.CounterVec
	pulls         *prometheus.CounterVec
	emptyPulls    *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	if reg == nil {
		return nil
	}
	m := &clientMetrics{
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_reconnects_total",
			Help: "Number of successful reconnects.",
		}),
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_pings_total",
			Help: "Number of PINGs sent by the client.",
		}),
		pingTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_ping_timeouts_total",
			Help: "Number of PINGs that did not receive a PONG in time.",
		}),
		jsAPIErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_js_api_errors_total",
			Help: "JetStream API errors by numeric code.",
		}, []string{"code"}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_consumer_pulls_total",
			Help: "Pull-consumer batch requests issued.",
		}, []string{"stream", "consumer"}),
		emptyPulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_consumer_empty_pulls_total",
			Help: "Pull-consumer batch requests that returned no messages.",
		}, []string{"stream", "consumer"}),
	}
	for _, c := range []prometheus.Collector{m.reconnects, m.pings, m.pingTimeouts, m.jsAPIErrors, m.pulls, m.emptyPulls} {
		_ = reg.Register(c)
	}
	return m
}

func (m *clientMetrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *clientMetrics) pinged() {
	if m == nil {
		return
	}
	m.pings.Inc()
}

func (m *clientMetrics) pingTimedOut() {
	if m == nil {
		return
	}
	m.pingTimeouts.Inc()
}

func (m *clientMetrics) jsAPIError(code int) {
	if m == nil {
		return
	}
	m.jsAPIErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *clientMetrics) pulled(stream, consumer string) {
	if m == nil {
		return
	}
	m.pulls.WithLabelValues(stream, consumer).Inc()
}

func (m *clientMetrics) emptyPull(stream, consumer string) {
	if m == nil {
		return
	}
	m.emptyPulls.WithLabelValues(stream, consumer).Inc()
}
