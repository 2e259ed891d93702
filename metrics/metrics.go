package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Monitor
	monitorTicksTotal      *prometheus.CounterVec
	monitorTickDuration    prometheus.Histogram
	depositsSeenTotal      *prometheus.CounterVec
	monitorWindowSaturated prometheus.Counter

	// Queue
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	deadLettersTotal prometheus.Counter

	// Payouts
	payoutsTotal     *prometheus.CounterVec
	payoutWeiTotal   prometheus.Counter
	payoutDuration   prometheus.Histogram
	payoutsRecovered prometheus.Counter

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
}

// NewMetrics registers every collector on registry, prometheus.DefaultRegisterer when nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		monitorTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_monitor_ticks_total",
				Help: "Total number of monitor ticks by status",
			},
			[]string{"status"},
		),
		monitorTickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_monitor_tick_duration_seconds",
				Help:    "Duration of monitor ticks in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		depositsSeenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_deposits_seen_total",
				Help: "Source transactions seen by the monitor, by decision",
			},
			[]string{"decision"},
		),
		monitorWindowSaturated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_monitor_window_saturated_total",
				Help: "Ticks where every listed transaction was new, deposits may have aged out of the window",
			},
		),

		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_jobs_total",
				Help: "Payout jobs handled by the dispatcher, by status",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_job_duration_seconds",
				Help:    "Duration of payout job handling in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_queue_jobs",
				Help: "Number of payout jobs in the queue, by state",
			},
			[]string{"state"},
		),
		deadLettersTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_dead_letters_total",
				Help: "Payout jobs moved to the dead letter list",
			},
		),

		payoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_payouts_total",
				Help: "Deposits recorded as processed, by outcome",
			},
			[]string{"outcome"},
		),
		payoutWeiTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_payout_wei_total",
				Help: "Sum of paid out destination amounts in wei",
			},
		),
		payoutDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_payout_broadcast_duration_seconds",
				Help:    "Duration of sign and broadcast in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
			},
		),
		payoutsRecovered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_payouts_recovered_total",
				Help: "Payouts resolved from the broadcast journal without a new transaction",
			},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
	}
}

// Monitor

func (m *Metrics) RecordMonitorTick(status string, duration float64) {
	if m == nil {
		return
	}
	m.monitorTicksTotal.WithLabelValues(status).Inc()
	m.monitorTickDuration.Observe(duration)
}

// RecordDepositsSeen counts listed transactions by what the monitor did with them.
func (m *Metrics) RecordDepositsSeen(decision string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.depositsSeenTotal.WithLabelValues(decision).Add(float64(count))
}

func (m *Metrics) RecordWindowSaturated() {
	if m == nil {
		return
	}
	m.monitorWindowSaturated.Inc()
}

// Queue

func (m *Metrics) RecordJob(status string, duration float64) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(duration)
}

func (m *Metrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.deadLettersTotal.Inc()
}

func (m *Metrics) SetQueueDepth(waiting, active, delayed, dead int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("waiting").Set(float64(waiting))
	m.queueDepth.WithLabelValues("active").Set(float64(active))
	m.queueDepth.WithLabelValues("delayed").Set(float64(delayed))
	m.queueDepth.WithLabelValues("dead").Set(float64(dead))
}

// Payouts

func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.payoutsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPayoutWei(wei float64) {
	if m == nil {
		return
	}
	m.payoutWeiTotal.Add(wei)
}

func (m *Metrics) RecordBroadcast(duration float64, recovered bool) {
	if m == nil {
		return
	}
	m.payoutDuration.Observe(duration)
	if recovered {
		m.payoutsRecovered.Inc()
	}
}

// HTTP

func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS

func (m *Metrics) RecordNATSPublish(subject, status string) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
