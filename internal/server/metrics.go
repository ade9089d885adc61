package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the monitor's Prometheus instruments on a private registry,
// so /metrics exposes only what the monitor owns.
type Metrics struct {
	reg *prometheus.Registry

	FramesIngested   prometheus.Counter
	Reductions       prometheus.Counter
	ReductionErrors  prometheus.Counter
	ReductionSeconds prometheus.Histogram
	CurvePoints      prometheus.Gauge
	WSClients        prometheus.Gauge
}

// NewMetrics builds the instrument set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		FramesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pyref",
			Subsystem: "monitor",
			Name:      "frames_ingested_total",
			Help:      "Frames received from the active source.",
		}),
		Reductions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pyref",
			Subsystem: "monitor",
			Name:      "reductions_total",
			Help:      "Completed reduction passes.",
		}),
		ReductionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pyref",
			Subsystem: "monitor",
			Name:      "reduction_errors_total",
			Help:      "Reduction passes that failed.",
		}),
		ReductionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pyref",
			Subsystem: "monitor",
			Name:      "reduction_seconds",
			Help:      "Wall time of one reduction pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		CurvePoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pyref",
			Subsystem: "monitor",
			Name:      "curve_points",
			Help:      "Points in the most recent curve.",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pyref",
			Subsystem: "monitor",
			Name:      "ws_clients",
			Help:      "Connected websocket viewers.",
		}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveDecodeFailures registers a counter backed by fn, typically the
// ingest package's decode failure count.
func (m *Metrics) ObserveDecodeFailures(fn func() uint64) {
	promauto.With(m.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "pyref",
		Subsystem: "monitor",
		Name:      "stream_decode_failures_total",
		Help:      "Stream payloads that failed to decode.",
	}, func() float64 { return float64(fn()) })
}
