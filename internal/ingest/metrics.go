package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts ingestion outcomes. A nil *Metrics records nothing.
//
// Metrics:
//   - chatmask_ingest_archives_total{outcome} - archives processed (ok, archive_error, empty)
//   - chatmask_ingest_entries_total{result} - candidate entries (parsed, malformed, unreadable)
//   - chatmask_ingest_conversations_total - conversations produced
//   - chatmask_ingest_duration_seconds - time spent per archive
type Metrics struct {
	Archives      *prometheus.CounterVec
	Entries       *prometheus.CounterVec
	Conversations prometheus.Counter
	Duration      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Archives: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmask_ingest_archives_total",
			Help: "Archives processed, by outcome",
		}, []string{"outcome"}),
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmask_ingest_entries_total",
			Help: "Candidate archive entries, by parse result",
		}, []string{"result"}),
		Conversations: f.NewCounter(prometheus.CounterOpts{
			Name: "chatmask_ingest_conversations_total",
			Help: "Conversations produced by ingestion",
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatmask_ingest_duration_seconds",
			Help:    "Time spent ingesting one archive",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (m *Metrics) archive(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Archives.WithLabelValues(outcome).Inc()
	m.Duration.Observe(seconds)
}

func (m *Metrics) entry(result string) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(result).Inc()
}

func (m *Metrics) conversations(n int) {
	if m == nil {
		return
	}
	m.Conversations.Add(float64(n))
}
