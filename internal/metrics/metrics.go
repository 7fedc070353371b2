// Package metrics holds the prometheus collectors of the feed engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "listfeed"

// Metrics groups every collector the engine updates.
type Metrics struct {
	Refills       *prometheus.CounterVec
	PoppedIDs     prometheus.Counter
	QueueLength   prometheus.Gauge
	DroppedDocs   *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	Batches       *prometheus.CounterVec
	SessionResets prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_refills_total",
			Help:      "Queue refills by result (ok, empty, error).",
		}, []string{"result"}),
		PoppedIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_popped_ids_total",
			Help:      "Candidate IDs removed from the queue.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Candidate IDs left in the queue after the last mutation.",
		}),
		DroppedDocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_dropped_total",
			Help:      "Documents dropped by the batch loader, by reason.",
		}, []string{"reason"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_load_duration_seconds",
			Help:      "Time to resolve one batch of documents.",
			Buckets:   prometheus.DefBuckets,
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_batches_total",
			Help:      "Batch completions by outcome (appended, discarded, empty).",
		}, []string{"outcome"}),
		SessionResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_session_resets_total",
			Help:      "Feed resets (enter and refresh).",
		}),
	}
	reg.MustRegister(m.Refills, m.PoppedIDs, m.QueueLength, m.DroppedDocs,
		m.BatchDuration, m.Batches, m.SessionResets)
	return m
}

func (m *Metrics) ObserveRefill(result string) {
	if m == nil {
		return
	}
	m.Refills.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePop(popped, remaining int) {
	if m == nil {
		return
	}
	m.PoppedIDs.Add(float64(popped))
	m.QueueLength.Set(float64(remaining))
}

func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
}

func (m *Metrics) ObserveDrop(reason string) {
	if m == nil {
		return
	}
	m.DroppedDocs.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveBatchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReset() {
	if m == nil {
		return
	}
	m.SessionResets.Inc()
}
