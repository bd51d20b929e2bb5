package marketing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "teashop_marketing"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	executions      *prometheus.CounterVec
	skips           *prometheus.CounterVec
	budgetExhausted *prometheus.CounterVec
	eventsReceived  *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	queueDepth      prometheus.Gauge
	actionLatency   *prometheus.HistogramVec
	scanDuration    *prometheus.HistogramVec
	scanCandidates  *prometheus.CounterVec
	workerErrors    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_total",
			Help:      "Trigger executions by trigger type, action and ledger status.",
		}, []string{"trigger_type", "action", "status"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "skips_total",
			Help:      "Execution attempts skipped without a ledger row.",
		}, []string{"reason"}),
		budgetExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "budget_exhausted_total",
			Help:      "Triggers deactivated because their budget ran out.",
		}, []string{"trigger_type"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_received_total",
			Help:      "Business events accepted by the dispatcher.",
		}, []string{"event_type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Business events dropped because the queue was full or stopped.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "event_queue_depth",
			Help:      "Events waiting in the dispatcher queue.",
		}),
		actionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "action_duration_seconds",
			Help:      "Latency of action service calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "result"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of scheduler scans.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"scan"}),
		scanCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scan_candidates_total",
			Help:      "Users selected by scheduler scans.",
		}, []string{"scan"}),
		workerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_errors_total",
			Help:      "Errors surfaced on the dispatcher's supervised error channel.",
		}, []string{"category"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.executions, m.skips, m.budgetExhausted, m.eventsReceived, m.eventsDropped,
		m.queueDepth, m.actionLatency, m.scanDuration, m.scanCandidates, m.workerErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) execution(triggerType, action, status string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(triggerType, action, status).Inc()
}

func (m *Metrics) skip(outcome Outcome) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) budgetExhaustedFor(triggerType string) {
	if m == nil {
		return
	}
	m.budgetExhausted.WithLabelValues(triggerType).Inc()
}

func (m *Metrics) eventReceived(eventType EventType) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) eventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) observeAction(action ActionKind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.actionLatency.WithLabelValues(string(action), result).Observe(elapsed.Seconds())
}

func (m *Metrics) observeScan(scan ScanKind, candidates int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.WithLabelValues(string(scan)).Observe(elapsed.Seconds())
	m.scanCandidates.WithLabelValues(string(scan)).Add(float64(candidates))
}

func (m *Metrics) workerError(category string) {
	if m == nil {
		return
	}
	m.workerErrors.WithLabelValues(category).Inc()
}
