package maintenance

import (
	"time"

	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
)

// Outcome describes what an active window did to an event, per §4.6
// "Application".
type Outcome struct {
	Suppressed        bool // mute or digest: no notification should be raised
	Downgraded        bool
	DowngradedFrom    database.Severity
	DigestFlagged     bool
	InMaintenance     bool
	MatchedWindowIDs  []uint
}

// ActiveWindows returns every IsActive window covering instant now.
func ActiveWindows(tx *gorm.DB, now time.Time) ([]database.MaintenanceWindow, error) {
	var windows []database.MaintenanceWindow
	if err := tx.Where("is_active = ? AND start_at <= ? AND end_at > ?", true, now, now).Find(&windows).Error; err != nil {
		return nil, errs.Transient("maintenance.active_windows", err)
	}
	return windows, nil
}

// ApplyToEvent evaluates every active window against event, records a
// MaintenanceMatch for each match, mutates event's suppression fields,
// and returns the combined Outcome the correlator should act on.
func ApplyToEvent(tx *gorm.DB, event *database.AlertEvent, now time.Time) (Outcome, error) {
	windows, err := ActiveWindows(tx, now)
	if err != nil {
		return Outcome{}, err
	}

	target := Target{
		Host:        event.Host,
		Service:     event.Service,
		Environment: event.Environment,
		Region:      event.Region,
		Tags:        []string(event.Tags),
	}

	var out Outcome
	for _, w := range windows {
		result := Matches(w.Scope(), target)
		if !result.Matched {
			continue
		}

		match := &database.MaintenanceMatch{
			WindowID:     w.ID,
			AlertEventID: &event.ID,
			MatchReason:  reasonJSON(result.Reasons),
		}
		if err := tx.Create(match).Error; err != nil {
			return Outcome{}, errs.Invariant("maintenance.create_match", err)
		}

		out.InMaintenance = true
		out.MatchedWindowIDs = append(out.MatchedWindowIDs, w.ID)

		switch w.SuppressMode {
		case database.SuppressModeMute:
			out.Suppressed = true
		case database.SuppressModeDigest:
			out.Suppressed = true
			out.DigestFlagged = true
		case database.SuppressModeDowngrade:
			out.Downgraded = true
			out.DowngradedFrom = event.Severity
		}
	}

	if out.Suppressed {
		event.IsSuppressed = true
		event.SuppressionReason = "maintenance_window"
	}
	if out.Downgraded {
		if event.Payload == nil {
			event.Payload = database.JSONB{}
		}
		event.Payload["original_severity"] = string(out.DowngradedFrom)
		event.Severity = event.Severity.Downgrade()
	}

	return out, nil
}

// ApplyToIncident evaluates active windows against an incident directly,
// used by the tick-based re-evaluation that flips is_in_maintenance back
// to false once every covering window has ended (§4.6, "When all active
// windows covering an incident end...").
func ApplyToIncident(tx *gorm.DB, incident *database.Incident, now time.Time) (bool, error) {
	windows, err := ActiveWindows(tx, now)
	if err != nil {
		return false, err
	}
	target := Target{Host: incident.Host, Service: incident.Service, Environment: incident.Environment, Region: incident.Region}
	for _, w := range windows {
		if Matches(w.Scope(), target).Matched {
			return true, nil
		}
	}
	return false, nil
}

func reasonJSON(reasons map[string][]string) database.JSONB {
	out := database.JSONB{}
	for k, v := range reasons {
		vals := make([]interface{}, len(v))
		for i, s := range v {
			vals[i] = s
		}
		out[k] = vals
	}
	return out
}
