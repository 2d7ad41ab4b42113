package escalate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ──────────────────────────────────────────────────────────────────────
// Telemetry Subscriber
//
// Prometheus instrumentation fed off the escalation stream, so the
// request path carries zero metric bookkeeping of its own.
// ──────────────────────────────────────────────────────────────────────

// Telemetry is an escalation subscriber exporting Prometheus metrics.
type Telemetry struct {
	detections     *prometheus.CounterVec
	actions        *prometheus.CounterVec
	verifiedBad    prometheus.Counter
	processingTime prometheus.Histogram
	riskScore      prometheus.Histogram
	responseBytes  prometheus.Histogram
}

// NewTelemetry builds and registers the metric set. reg may be a custom
// registry in tests; nil uses the default registerer.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwall_detections_total",
			Help: "Completed detections by risk band.",
		}, []string{"band"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwall_actions_total",
			Help: "Dispatched enforcement actions by policy name.",
		}, []string{"action"}),
		verifiedBad: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botwall_verified_bad_total",
			Help: "Detections with a verified-hostile reputation hit.",
		}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botwall_processing_seconds",
			Help:    "Request-side detection latency.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botwall_risk_score",
			Help:    "Distribution of fused bot probabilities.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		responseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botwall_response_bytes",
			Help:    "Response sizes observed by the operation-side analysis.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}
	reg.MustRegister(t.detections, t.actions, t.verifiedBad, t.processingTime, t.riskScore, t.responseBytes)
	return t
}

// Name implements Subscriber.
func (t *Telemetry) Name() string { return "telemetry" }

// Handle implements Subscriber.
func (t *Telemetry) Handle(ev Event) {
	sig := ev.Request
	t.detections.WithLabelValues(string(sig.RiskBand)).Inc()
	if sig.Action != "" {
		t.actions.WithLabelValues(sig.Action).Inc()
	}
	if sig.Honeypot {
		t.verifiedBad.Inc()
	}
	t.riskScore.Observe(sig.Risk)

	if ev.Operation != nil {
		t.responseBytes.Observe(float64(ev.Operation.ResponseBytes))
	}
}

// ObserveProcessingTime records the request-side latency in milliseconds.
// Called by the engine directly because the escalation signal rounds it.
func (t *Telemetry) ObserveProcessingTime(ms float64) {
	t.processingTime.Observe(ms / 1000)
}
