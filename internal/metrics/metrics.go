package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the engine counters.
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics groups the Prometheus collectors exported by the wallet engine.
// A nil *Metrics is valid and records nothing, so services can run without it.
type Metrics struct {
	mutations     *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	transferLat   prometheus.Histogram
	lockTimeouts  prometheus.Counter
	bulkItems     *prometheus.CounterVec
	requests      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// New registers the wallet collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_balance_mutations_total",
			Help: "Credits and debits applied by the balance mutator",
		}, []string{"type", "outcome"}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transfers_total",
			Help: "Transfers attempted by the orchestrator",
		}, []string{"outcome"}),
		transferLat: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallet_transfer_duration_seconds",
			Help:    "Transfer latency including lock acquisition",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		lockTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "wallet_lock_timeouts_total",
			Help: "Account lock acquisitions that gave up waiting",
		}),
		bulkItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_bulk_items_total",
			Help: "Items processed by admin bulk operations",
		}, []string{"operation", "outcome"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_payment_request_transitions_total",
			Help: "Payment request status transitions",
		}, []string{"status"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_notifications_total",
			Help: "Notification deliveries by outcome",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_http_request_duration_seconds",
			Help:    "Request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Mutation(entryType, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(entryType, outcome).Inc()
}

func (m *Metrics) Transfer(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
	m.transferLat.Observe(took.Seconds())
}

func (m *Metrics) LockTimeout() {
	if m == nil {
		return
	}
	m.lockTimeouts.Inc()
}

func (m *Metrics) BulkItem(operation, outcome string) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RequestTransition(status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one served request. route is the matched route pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) HTTPRequest(method, route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(took.Seconds())
}
