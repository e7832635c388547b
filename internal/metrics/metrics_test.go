package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordChange(true)
	m.RecordRejection("locked")
	m.RecordConflict("range_overlap", "auto")
	m.RecordLockContention()
	m.RecordPublish("file_updated", errors.New("down"))
	m.RecordPersistFailure()
	m.SessionStarted()
	m.SessionEnded()
	m.ParticipantsChanged(3)
}

func TestRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordChange(false)
	m.RecordChange(false)
	m.RecordChange(true)
	m.RecordConflict("range_overlap", "auto")
	m.RecordLockContention()
	m.RecordPublish("file_updated", nil)
	m.RecordPublish("file_updated", errors.New("down"))
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()
	m.ParticipantsChanged(2)
	m.ParticipantsChanged(-1)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"clean changes", testutil.ToFloat64(m.ChangesApplied.WithLabelValues("none")), 2},
		{"auto resolved changes", testutil.ToFloat64(m.ChangesApplied.WithLabelValues("auto_resolved")), 1},
		{"conflicts", testutil.ToFloat64(m.ConflictsDetected.WithLabelValues("range_overlap", "auto")), 1},
		{"lock contention", testutil.ToFloat64(m.LockContention), 1},
		{"events", testutil.ToFloat64(m.EventsPublished.WithLabelValues("file_updated")), 2},
		{"publish failures", testutil.ToFloat64(m.PublishFailures), 1},
		{"active sessions", testutil.ToFloat64(m.ActiveSessions), 1},
		{"participants", testutil.ToFloat64(m.Participants), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(m.ConflictsDetected); n != 1 {
		t.Errorf("conflict series = %d, want 1", n)
	}
}

func TestNewWithNilRegistry(t *testing.T) {
	// Two instances must not collide when neither supplies a registry.
	_ = New(nil)
	_ = New(nil)
}
