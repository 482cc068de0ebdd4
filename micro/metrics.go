package micro

import "github.com/prometheus/client_golang/prometheus"

// serviceMetrics mirrors each endpoint's plain-Go-field stats into
// Prometheus, the same nil-safe-if-absent shape the root package uses for
// connection-level counters.
type serviceMetrics struct {
	requests   *prometheus.CounterVec
	errors     *prometheus.CounterVec
	processing *prometheus.HistogramVec
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	if reg == nil {
		return nil
	}
	m := &serviceMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_service_requests_total",
			Help: "Requests handled per service endpoint.",
		}, []string{"service", "endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_service_errors_total",
			Help: "Requests that returned an error per service endpoint.",
		}, []string{"service", "endpoint"}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "relay_service_processing_seconds",
			Help: "Endpoint handler processing time.",
		}, []string{"service", "endpoint"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.errors, m.processing} {
		_ = reg.Register(c)
	}
	return m
}

func (m *serviceMetrics) observe(service, endpoint string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(service, endpoint).Inc()
	m.processing.WithLabelValues(service, endpoint).Observe(seconds)
	if failed {
		m.errors.WithLabelValues(service, endpoint).Inc()
	}
}
