package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/phase-controller/internal/mode"
)

const namespace = "phase"

// Rejection reasons used as the "reason" label.
const (
	ReasonDimension = "dimension_mismatch"
	ReasonLensing   = "invalid_lensing"
	ReasonReading   = "invalid_reading"
	ReasonEmbed     = "embed_failed"
	ReasonStorage   = "storage"
)

// #region metrics
// Metrics holds the controller's Prometheus collectors.
type Metrics struct {
	VSP         *prometheus.HistogramVec
	Trend       *prometheus.GaugeVec
	ModeLevel   *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
	Debounced   *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	BasisSize   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		VSP: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vsp_value",
			Help:      "Phase dissonance readings.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"agent"}),
		Trend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trend",
			Help:      "Exponentially decayed V_SP trend.",
		}, []string{"agent"}),
		ModeLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode_level",
			Help:      "Current mode: 0 idle, 1 flow, 2 deep, 3 crisis.",
		}, []string{"agent"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed mode transitions.",
		}, []string{"agent", "from", "to"}),
		Debounced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounced_total",
			Help:      "De-escalations held back by the dwell time.",
		}, []string{"agent"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_inputs_total",
			Help:      "Inputs rejected before reaching the controller.",
		}, []string{"agent", "reason"}),
		BasisSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "basis_vectors",
			Help:      "Vectors in the active schema basis.",
		}),
	}
	reg.MustRegister(m.VSP, m.Trend, m.ModeLevel, m.Transitions, m.Debounced, m.Rejected, m.BasisSize)
	return m
}

// ObserveEvaluation records one reading and the controller's response to it.
func (m *Metrics) ObserveEvaluation(agent string, value float64, ev mode.Evaluation) {
	m.VSP.WithLabelValues(agent).Observe(value)
	m.Trend.WithLabelValues(agent).Set(ev.Trend)
	m.ModeLevel.WithLabelValues(agent).Set(float64(ev.State.Mode))
	if ev.Transitioned {
		m.Transitions.WithLabelValues(agent, ev.Previous.String(), ev.State.Mode.String()).Inc()
	}
	if ev.Debounced {
		m.Debounced.WithLabelValues(agent).Inc()
	}
}

// ObserveRejection counts an input that never reached the controller.
func (m *Metrics) ObserveRejection(agent, reason string) {
	m.Rejected.WithLabelValues(agent, reason).Inc()
}

// SetBasisSize records the number of vectors in the active basis.
func (m *Metrics) SetBasisSize(n int) {
	m.BasisSize.Set(float64(n))
}
// #endregion metrics

// #region handler
// Handler serves the metrics in g over HTTP.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
// #endregion handler
