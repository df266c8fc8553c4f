package indexedfastq

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch results used as the "result" label.
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// Metrics holds the Prometheus collectors for builds and fetches.
// A nil *Metrics records nothing.
type Metrics struct {
	FetchTotal    *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	BuildRecords  prometheus.Counter
	BuildDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indexedfastq_fetch_total",
			Help: "Record lookups by result",
		}, []string{"result"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexedfastq_fetch_duration_seconds",
			Help:    "Record lookup latency",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		BuildRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "indexedfastq_build_records_total",
			Help: "Records indexed by completed builds",
		}),
		BuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexedfastq_build_duration_seconds",
			Help:    "Time to build an index",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}),
	}
}

func (m *Metrics) observeFetch(start time.Time, result string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeBuild(start time.Time, records uint64) {
	if m == nil {
		return
	}
	m.BuildRecords.Add(float64(records))
	m.BuildDuration.Observe(time.Since(start).Seconds())
}
