// Package notify defines the narrow notification-sink interface §4.5
// requires for severity escalations into critical/high: "must be
// emitted to any notification sink." The correlator depends only on
// the Sink interface; concrete delivery (Slack, PagerDuty, email) is
// out of scope per §1 and can be added later behind the same interface
// without the correlator changing.
package notify

import (
	"time"

	"go.uber.org/zap"

	"github.com/ngs-project/noisegate/internal/database"
)

// Escalation describes one confirmed severity escalation on a live
// incident, the only event §4.5 requires a sink to observe.
type Escalation struct {
	IncidentUUID string
	Fingerprint  string
	Title        string
	Host         string
	Service      string
	SeverityFrom database.Severity
	SeverityTo   database.Severity
	OccurredAt   time.Time
}

// Sink receives escalation notifications. Implementations must not
// block the correlator's transaction for long; NotifyEscalation is
// called after the incident row has already been staged for save.
type Sink interface {
	NotifyEscalation(e Escalation) error
}

// LogSink is the default Sink: a structured log line via zap, matching
// the teacher's ambient plain-log idiom but with the structured fields
// an escalation needs (severity_from, severity_to, incident).
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink. logger may be nil, in which case a
// no-op logger is used.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "notify"))}
}

func (s *LogSink) NotifyEscalation(e Escalation) error {
	s.logger.Info("incident severity escalation",
		zap.String("incident_uuid", e.IncidentUUID),
		zap.String("fingerprint", e.Fingerprint),
		zap.String("title", e.Title),
		zap.String("host", e.Host),
		zap.String("service", e.Service),
		zap.String("severity_from", string(e.SeverityFrom)),
		zap.String("severity_to", string(e.SeverityTo)),
		zap.Time("occurred_at", e.OccurredAt),
	)
	return nil
}

// NoopSink discards every escalation. Used as the zero-value default
// when a correlator.Config carries no Notifier, so ApplyEvent never
// needs a nil check at the call site.
type NoopSink struct{}

func (NoopSink) NotifyEscalation(Escalation) error { return nil }
