package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes the engine's operational counters and gauges as
// Prometheus collectors. Components report into it by calling its Record*
// methods directly (their Stats() methods are not read here) rather than
// registering their own metrics, so the embedding service mounts a single
// promhttp.Handler.
type MetricsCollector struct {
	registry *prometheus.Registry

	verdicts        *prometheus.CounterVec
	waveLatency     *prometheus.HistogramVec
	detectorErrors  *prometheus.CounterVec
	sinkDropped     prometheus.Counter
	sinkEvicted     prometheus.Counter
	coordBackpress  prometheus.Counter
	fastPathHits    *prometheus.CounterVec
	aberrations     prometheus.Counter
	reputationTrans *prometheus.CounterVec
}

// NewMetricsCollector builds and registers the collector set on a fresh
// registry, so tests can construct multiple collectors without colliding
// on the default global registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	mc := &MetricsCollector{
		registry: reg,
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botshield_verdicts_total",
			Help: "Verdicts issued, by recommended action and risk band.",
		}, []string{"action", "risk_band"}),
		waveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botshield_wave_duration_seconds",
			Help:    "Wall-clock duration of a single orchestrator wave.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"wave"}),
		detectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botshield_detector_errors_total",
			Help: "Leaf detector failures/timeouts, by detector name.",
		}, []string{"detector"}),
		sinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botshield_sink_dropped_total",
			Help: "Signal entries dropped on Raise due to capacity.",
		}),
		sinkEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botshield_sink_evicted_total",
			Help: "Signal entries evicted by a TTL sweep.",
		}),
		coordBackpress: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botshield_coordinator_backpressure_total",
			Help: "Signature coordinator update queue saturations.",
		}),
		fastPathHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botshield_fastpath_hits_total",
			Help: "Fast-path signature matches, by match kind.",
		}, []string{"kind"}),
		aberrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botshield_aberrations_total",
			Help: "Signatures that crossed the aberration threshold.",
		}),
		reputationTrans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botshield_reputation_transitions_total",
			Help: "Reputation state transitions, by destination state.",
		}, []string{"state"}),
	}
	reg.MustRegister(
		mc.verdicts, mc.waveLatency, mc.detectorErrors, mc.sinkDropped,
		mc.sinkEvicted, mc.coordBackpress, mc.fastPathHits, mc.aberrations,
		mc.reputationTrans,
	)
	return mc
}

// Registry returns the Prometheus registry backing this collector, for
// mounting behind promhttp.HandlerFor.
func (mc *MetricsCollector) Registry() *prometheus.Registry { return mc.registry }

func (mc *MetricsCollector) RecordVerdict(action, riskBand string) {
	mc.verdicts.WithLabelValues(action, riskBand).Inc()
}

func (mc *MetricsCollector) RecordWave(wave string, d time.Duration) {
	mc.waveLatency.WithLabelValues(wave).Observe(d.Seconds())
}

func (mc *MetricsCollector) RecordDetectorError(name string) {
	mc.detectorErrors.WithLabelValues(name).Inc()
}

func (mc *MetricsCollector) RecordSinkDropped()        { mc.sinkDropped.Inc() }
func (mc *MetricsCollector) RecordSinkEvicted()        { mc.sinkEvicted.Inc() }
func (mc *MetricsCollector) RecordCoordinatorBackpressure() { mc.coordBackpress.Inc() }

func (mc *MetricsCollector) RecordFastPathHit(kind string) {
	mc.fastPathHits.WithLabelValues(kind).Inc()
}

func (mc *MetricsCollector) RecordAberration() { mc.aberrations.Inc() }

func (mc *MetricsCollector) RecordReputationTransition(state string) {
	mc.reputationTrans.WithLabelValues(state).Inc()
}
