package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the bridging pipeline.
type Metrics struct {
	blocksScanned    prometheus.Counter
	eventsDiscovered prometheus.Counter
	submissions      prometheus.Counter
	confirmed        prometheus.Counter
	failed           prometheus.Counter
	errors           prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			blocksScanned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mintbridge_blocks_scanned_total",
				Help: "Total number of source chain blocks scanned",
			}),
			eventsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mintbridge_events_discovered_total",
				Help: "Total number of qualifying mint events discovered",
			}),
			submissions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mintbridge_submissions_total",
				Help: "Total number of transactions submitted to the ledger",
			}),
			confirmed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mintbridge_issuances_confirmed_total",
				Help: "Total number of issuances confirmed on the ledger",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mintbridge_issuances_failed_total",
				Help: "Total number of issuances that ended failed",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "mintbridge_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.blocksScanned,
			metrics.eventsDiscovered,
			metrics.submissions,
			metrics.confirmed,
			metrics.failed,
			metrics.errors,
		)
	})
	return metrics
}

// BlocksScanned adds n to the scanned blocks counter.
func (m *Metrics) BlocksScanned(n uint64) {
	if m != nil {
		m.blocksScanned.Add(float64(n))
	}
}

// EventsDiscovered increments the discovered events counter.
func (m *Metrics) EventsDiscovered() {
	if m != nil {
		m.eventsDiscovered.Inc()
	}
}

// Submissions increments the submissions counter.
func (m *Metrics) Submissions() {
	if m != nil {
		m.submissions.Inc()
	}
}

// Confirmed increments the confirmed issuances counter.
func (m *Metrics) Confirmed() {
	if m != nil {
		m.confirmed.Inc()
	}
}

// Failed increments the failed issuances counter.
func (m *Metrics) Failed() {
	if m != nil {
		m.failed.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
