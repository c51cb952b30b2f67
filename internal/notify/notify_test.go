package notify

import (
	"testing"
	"time"

	"github.com/ngs-project/noisegate/internal/database"
)

func TestNoopSink_NeverErrors(t *testing.T) {
	var s NoopSink
	if err := s.NotifyEscalation(Escalation{}); err != nil {
		t.Fatalf("expected NoopSink to never error, got %v", err)
	}
}

func TestLogSink_NotifyEscalationDoesNotError(t *testing.T) {
	s := NewLogSink(nil)
	err := s.NotifyEscalation(Escalation{
		IncidentUUID: "inc-1",
		Fingerprint:  "fp-1",
		Title:        "cpu-high on web-01",
		Host:         "web-01",
		SeverityFrom: database.SeverityMedium,
		SeverityTo:   database.SeverityCritical,
		OccurredAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
