package monitoring

import (
	"time"

	"tipwire/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes dispatch and queue metrics. It satisfies the
// dispatcher's outcome recorder.
type PrometheusCollector struct {
	eventsIngestedTotal *prometheus.CounterVec
	outcomesTotal       *prometheus.CounterVec
	cooldownDenials     *prometheus.CounterVec

	dispatchDuration  prometheus.Histogram
	collaboratorCalls *prometheus.HistogramVec

	queueEntriesTotal *prometheus.CounterVec
	pendingDeferred   prometheus.Gauge
	queueLockBusy     prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		eventsIngestedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tipwire_events_ingested_total",
			Help: "Platform events received, by kind",
		}, []string{"kind"}),

		outcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tipwire_outcomes_total",
			Help: "Terminal dispatch outcomes, by status and intent",
		}, []string{"status", "intent"}),

		cooldownDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tipwire_cooldown_denials_total",
			Help: "Cooldown acquisitions denied, by trigger class",
		}, []string{"trigger"}),

		dispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tipwire_dispatch_duration_seconds",
			Help:    "Time from intent admission to terminal outcome",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		collaboratorCalls: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tipwire_collaborator_call_duration_seconds",
			Help:    "External collaborator call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"collaborator", "operation"}),

		queueEntriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tipwire_queue_entries_total",
			Help: "Song queue entries reaching a terminal status",
		}, []string{"status", "reason"}),

		pendingDeferred: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tipwire_queue_deferred_pending",
			Help: "Song requests currently deferred behind the queue lock",
		}),

		queueLockBusy: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tipwire_queue_lock_contention_total",
			Help: "Queue lock acquisitions that found the lock held",
		}),
	}
}

func (p *PrometheusCollector) RecordEventIngested(kind domain.EventKind) {
	p.eventsIngestedTotal.WithLabelValues(string(kind)).Inc()
}

// RecordOutcome implements services.OutcomeRecorder.
func (p *PrometheusCollector) RecordOutcome(outcome domain.Outcome) {
	p.outcomesTotal.WithLabelValues(string(outcome.Status), string(outcome.Intent)).Inc()
}

func (p *PrometheusCollector) RecordCooldownDenied(trigger string) {
	p.cooldownDenials.WithLabelValues(trigger).Inc()
}

func (p *PrometheusCollector) RecordDispatchDuration(d time.Duration) {
	p.dispatchDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordCollaboratorCall(collaborator, operation string, d time.Duration) {
	p.collaboratorCalls.WithLabelValues(collaborator, operation).Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordQueueEntry(status domain.EntryStatus, reason domain.RejectReason) {
	p.queueEntriesTotal.WithLabelValues(string(status), string(reason)).Inc()
}

func (p *PrometheusCollector) SetDeferredPending(n int) {
	p.pendingDeferred.Set(float64(n))
}

func (p *PrometheusCollector) RecordQueueLockContention() {
	p.queueLockBusy.Inc()
}
