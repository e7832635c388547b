// Package metrics exposes Prometheus collectors for the collaboration engine.
//
// A nil *Metrics is valid and records nothing, so the engine can call the
// recording methods unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pairpad"

// Metrics holds the engine's collectors.
type Metrics struct {
	ChangesApplied    *prometheus.CounterVec
	ChangesRejected   *prometheus.CounterVec
	ConflictsDetected *prometheus.CounterVec
	LockContention    prometheus.Counter
	EventsPublished   *prometheus.CounterVec
	PublishFailures   prometheus.Counter
	PersistFailures   prometheus.Counter
	ActiveSessions    prometheus.Gauge
	Participants      prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry, which keeps tests from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChangesApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changes_applied_total",
				Help:      "Change batches committed, by conflict outcome",
			},
			[]string{"conflict"},
		),
		ChangesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changes_rejected_total",
				Help:      "Change batches refused, by reason",
			},
			[]string{"reason"},
		),
		ConflictsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_detected_total",
				Help:      "Conflicts recorded, by kind and session policy",
			},
			[]string{"kind", "policy"},
		),
		LockContention: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_contention_total",
				Help:      "Lock requests refused because another participant holds the file",
			},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Notifications handed to the broadcast hub, by type",
			},
			[]string{"type"},
		),
		PublishFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Notifications the broadcast hub failed to accept",
			},
		),
		PersistFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Session saves that failed",
			},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions that have not ended",
			},
		),
		Participants: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "participants",
				Help:      "Participants currently in a session",
			},
		),
	}
}

// RecordChange counts a committed batch. conflicted is true when it went
// through the auto policy.
func (m *Metrics) RecordChange(conflicted bool) {
	if m == nil {
		return
	}
	label := "none"
	if conflicted {
		label = "auto_resolved"
	}
	m.ChangesApplied.WithLabelValues(label).Inc()
}

// RecordRejection counts a refused batch.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.ChangesRejected.WithLabelValues(reason).Inc()
}

// RecordConflict counts a conflict record.
func (m *Metrics) RecordConflict(kind, policy string) {
	if m == nil {
		return
	}
	m.ConflictsDetected.WithLabelValues(kind, policy).Inc()
}

// RecordLockContention counts a refused lock request.
func (m *Metrics) RecordLockContention() {
	if m == nil {
		return
	}
	m.LockContention.Inc()
}

// RecordPublish counts a notification and whether the hub accepted it.
func (m *Metrics) RecordPublish(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
	if err != nil {
		m.PublishFailures.Inc()
	}
}

// RecordPersistFailure counts a failed save.
func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// SessionStarted and SessionEnded track the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// ParticipantsChanged adjusts the participant gauge by delta.
func (m *Metrics) ParticipantsChanged(delta int) {
	if m == nil {
		return
	}
	m.Participants.Add(float64(delta))
}
