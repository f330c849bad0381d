package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks       *prometheus.CounterVec
	predictions *prometheus.CounterVec
	offers      *prometheus.CounterVec
	trades      *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
	inFlight    prometheus.Gauge
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcpull_ticks_total",
				Help: "Ticks emitted by source",
			},
			[]string{"asset", "source"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcpull_predictions_total",
				Help: "Predictions emitted by pattern length",
			},
			[]string{"asset", "analysis_type"},
		),
		offers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcpull_offers_total",
				Help: "Scheduler offer decisions",
			},
			[]string{"asset", "decision"},
		),
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcpull_trades_total",
				Help: "Trade results by final state",
			},
			[]string{"asset", "state"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otcpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otcpull_last_price",
				Help: "Last tick price for an asset",
			},
			[]string{"asset"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "otcpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "otcpull_trades_in_flight",
				Help: "Pending and firing trades",
			},
		),
	}
}

func (r *Recorder) RecordTick(asset, source string) {
	r.ticks.WithLabelValues(asset, source).Inc()
}

func (r *Recorder) RecordPrediction(asset string, analysisType int) {
	r.predictions.WithLabelValues(asset, strconv.Itoa(analysisType)).Inc()
}

func (r *Recorder) RecordOffer(asset, decision string) {
	r.offers.WithLabelValues(asset, decision).Inc()
}

func (r *Recorder) RecordTrade(asset, state string) {
	r.trades.WithLabelValues(asset, state).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for an asset.
func (r *Recorder) RecordLastPrice(asset string, price float64) {
	r.lastPrice.WithLabelValues(asset).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetInFlight(n int) {
	r.inFlight.Set(float64(n))
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordTick(string, string)       {}
func (Nop) RecordPrediction(string, int)    {}
func (Nop) RecordOffer(string, string)      {}
func (Nop) RecordTrade(string, string)      {}
func (Nop) RecordError(string)              {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64)   {}
func (Nop) SetInFlight(int)                 {}
