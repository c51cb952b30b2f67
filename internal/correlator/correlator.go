// Package correlator implements the incident correlation state machine
// (§4.5): folding a stream of AlertEvents into at most one live Incident
// per fingerprint, with severity escalation, flap detection, and a
// mandatory open -> resolving -> resolved lifecycle on resolve.
package correlator

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
	"github.com/ngs-project/noisegate/internal/maintenance"
	"github.com/ngs-project/noisegate/internal/notify"
)

// Config holds the correlation tunables sourced from
// internal/config.CorrelationConfig.
type Config struct {
	FlapThreshold      int
	FlapWindow         time.Duration
	ResolveQuietPeriod time.Duration
	AutoResolveAfter   time.Duration

	// Notifier receives severity escalations into critical/high per
	// §4.5. A zero-value Config falls back to notify.NoopSink.
	Notifier notify.Sink
}

func (c Config) notifier() notify.Sink {
	if c.Notifier == nil {
		return notify.NoopSink{}
	}
	return c.Notifier
}

// ApplyEvent folds event into the incident state for its fingerprint,
// creating, updating, or dropping as required by §4.5. It must run
// inside the same transaction that persisted event. Returns nil with a
// nil error when the event was dropped (no live incident and the event
// is already resolved).
func ApplyEvent(tx *gorm.DB, cfg Config, event *database.AlertEvent, now time.Time) (*database.Incident, error) {
	outcome, err := maintenance.ApplyToEvent(tx, event, now)
	if err != nil {
		return nil, err
	}
	if outcome.Suppressed || outcome.Downgraded {
		if err := tx.Model(event).Updates(map[string]interface{}{
			"severity":           event.Severity,
			"is_suppressed":      event.IsSuppressed,
			"suppression_reason": event.SuppressionReason,
			"payload":            event.Payload,
		}).Error; err != nil {
			return nil, errs.Transient("correlator.persist_maintenance_outcome", err)
		}
	}

	var incident database.Incident
	err = tx.Where("fingerprint_v2 = ? AND status IN ?", event.FingerprintV2, database.LiveIncidentStatuses).
		First(&incident).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if event.State == database.AlertStateResolved {
			return nil, nil
		}
		return createIncident(tx, event, outcome, now)
	case err != nil:
		return nil, errs.Transient("correlator.find_live_incident", err)
	}

	return updateIncident(tx, &incident, cfg, event, outcome, now)
}

func createIncident(tx *gorm.DB, event *database.AlertEvent, outcome maintenance.Outcome, now time.Time) (*database.Incident, error) {
	inc := &database.Incident{
		UUID:              uuid.NewString(),
		FingerprintV2:     event.FingerprintV2,
		Title:             incidentTitle(event),
		SourceTool:        event.SourceTool,
		Environment:       event.Environment,
		Region:            event.Region,
		Host:              event.Host,
		CheckName:         event.CheckName,
		Service:           event.Service,
		Status:            database.IncidentStatusOpen,
		SeverityCurrent:   event.Severity,
		SeverityMax:       event.Severity,
		LastState:         event.State,
		FirstSeenAt:       event.OccurredAt,
		LastSeenAt:        event.OccurredAt,
		EventCount:        1,
		LastStateChangeAt: now,
		IsInMaintenance:   outcome.InMaintenance,
	}
	if len(outcome.MatchedWindowIDs) > 0 {
		id := outcome.MatchedWindowIDs[0]
		inc.MaintenanceWindowID = &id
	}

	if err := tx.Create(inc).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, errs.Invariant("correlator.create_incident", err).WithContext(map[string]interface{}{
				"fingerprint_v2": event.FingerprintV2,
			})
		}
		return nil, errs.Transient("correlator.create_incident", err)
	}

	if err := tx.Create(&database.IncidentEvent{IncidentID: inc.ID, AlertEventID: event.ID}).Error; err != nil {
		return nil, errs.Transient("correlator.link_incident_event", err)
	}

	for _, wid := range outcome.MatchedWindowIDs {
		wid := wid
		if err := tx.Create(&database.MaintenanceMatch{WindowID: wid, IncidentID: &inc.ID}).Error; err != nil {
			return nil, errs.Transient("correlator.record_incident_match", err)
		}
	}

	return inc, nil
}

func updateIncident(tx *gorm.DB, incident *database.Incident, cfg Config, event *database.AlertEvent, outcome maintenance.Outcome, now time.Time) (*database.Incident, error) {
	prior, err := latestLinkedEvent(tx, incident.ID)
	if err != nil {
		return nil, err
	}
	isDedup := prior != nil && prior.ContentHash() == event.ContentHash()

	if err := tx.Create(&database.IncidentEvent{IncidentID: incident.ID, AlertEventID: event.ID, IsDeduplicated: isDedup}).Error; err != nil {
		return nil, errs.Transient("correlator.link_incident_event", err)
	}

	for _, wid := range outcome.MatchedWindowIDs {
		wid := wid
		if err := tx.Create(&database.MaintenanceMatch{WindowID: wid, IncidentID: &incident.ID}).Error; err != nil {
			return nil, errs.Transient("correlator.record_incident_match", err)
		}
	}

	prevSeverityCurrent := incident.SeverityCurrent

	incident.EventCount++
	if event.OccurredAt.After(incident.LastSeenAt) {
		incident.LastSeenAt = event.OccurredAt
	}
	incident.SeverityMax = incident.SeverityMax.Max(event.Severity)
	incident.IsInMaintenance = incident.IsInMaintenance || outcome.InMaintenance
	if outcome.InMaintenance && incident.MaintenanceWindowID == nil && len(outcome.MatchedWindowIDs) > 0 {
		id := outcome.MatchedWindowIDs[0]
		incident.MaintenanceWindowID = &id
	}

	// Ordering guarantee: re-derive severity_current and last_state from
	// the latest occurred_at among all linked events, not from event
	// itself, so an out-of-order delivery cannot regress the visible
	// state.
	latest, err := latestOccurredEvent(tx, incident.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		incident.SeverityCurrent = latest.Severity
		if latest.State != incident.LastState {
			recordStateChange(incident, cfg, now)
		}
		incident.LastState = latest.State
		applyResolveLifecycle(incident, cfg, latest.State, now)
	}

	// Severity escalation into critical/high updates last-state-change-at
	// and is emitted to the notification sink, per §4.5. A maintenance
	// mute/digest must not raise a notification for a state change it
	// caused.
	if isEscalation(prevSeverityCurrent, incident.SeverityCurrent) {
		incident.LastStateChangeAt = now
		if !outcome.Suppressed {
			if err := cfg.notifier().NotifyEscalation(notify.Escalation{
				IncidentUUID: incident.UUID,
				Fingerprint:  incident.FingerprintV2,
				Title:        incident.Title,
				Host:         incident.Host,
				Service:      incident.Service,
				SeverityFrom: prevSeverityCurrent,
				SeverityTo:   incident.SeverityCurrent,
				OccurredAt:   event.OccurredAt,
			}); err != nil {
				return nil, errs.Transient("correlator.notify_escalation", err)
			}
		}
	}

	if err := tx.Save(incident).Error; err != nil {
		return nil, errs.Transient("correlator.save_incident", err)
	}
	return incident, nil
}

func recordStateChange(incident *database.Incident, cfg Config, now time.Time) {
	if !incident.LastStateChangeAt.IsZero() && now.Sub(incident.LastStateChangeAt) <= cfg.FlapWindow {
		incident.FlapCount++
	} else {
		incident.FlapCount = 1
	}
	incident.LastStateChangeAt = now
	if cfg.FlapThreshold > 0 && incident.FlapCount >= cfg.FlapThreshold {
		incident.IsFlapping = true
	}
}

// applyResolveLifecycle implements the mandatory open -> resolving ->
// resolved path. A firing event arriving while resolving reverts the
// incident to open, since the condition is evidently not settled.
func applyResolveLifecycle(incident *database.Incident, cfg Config, latestState database.AlertState, now time.Time) {
	switch latestState {
	case database.AlertStateResolved:
		switch incident.Status {
		case database.IncidentStatusOpen, database.IncidentStatusAcknowledged:
			incident.Status = database.IncidentStatusResolving
			incident.LastStateChangeAt = now
		case database.IncidentStatusResolving:
			if now.Sub(incident.LastStateChangeAt) >= cfg.ResolveQuietPeriod {
				resolve(incident, now, database.ResolutionReasonQuietPeriod)
			}
		}
	case database.AlertStateFiring:
		if incident.Status == database.IncidentStatusResolving {
			incident.Status = database.IncidentStatusOpen
			incident.LastStateChangeAt = now
		}
	}
}

func resolve(incident *database.Incident, now time.Time, reason string) {
	incident.Status = database.IncidentStatusResolved
	resolvedAt := now
	incident.ResolvedAt = &resolvedAt
	incident.ResolutionReason = reason
	incident.LastStateChangeAt = now
}

func latestLinkedEvent(tx *gorm.DB, incidentID uint) (*database.AlertEvent, error) {
	var event database.AlertEvent
	err := tx.Joins("JOIN incident_events ON incident_events.alert_event_id = alert_events.id").
		Where("incident_events.incident_id = ?", incidentID).
		Order("alert_events.occurred_at DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Transient("correlator.latest_linked_event", err)
	}
	return &event, nil
}

func latestOccurredEvent(tx *gorm.DB, incidentID uint) (*database.AlertEvent, error) {
	return latestLinkedEvent(tx, incidentID)
}

func incidentTitle(event *database.AlertEvent) string {
	if event.CheckName != "" && event.Host != "" {
		return event.CheckName + " on " + event.Host
	}
	if event.Service != "" {
		return event.Service
	}
	return event.Host
}

// isEscalation reports whether severity rose from prev to next and the
// new severity is critical or high, per §4.5's escalation-notification
// requirement.
func isEscalation(prev, next database.Severity) bool {
	if next.Rank() <= prev.Rank() {
		return false
	}
	return next == database.SeverityCritical || next == database.SeverityHigh
}

func isUniqueViolation(err error) bool {
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "UNIQUE constraint")
}
