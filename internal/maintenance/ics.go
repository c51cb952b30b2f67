package maintenance

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/ngs-project/noisegate/internal/database"
)

// DetectFromICS parses a calendar-invite payload into a candidate
// MaintenanceWindow. When the event carries an RRULE, the window's
// RecurrenceRule is stored verbatim and IsRecurring is set, but StartAt
// and EndAt are the event's own first occurrence — expansion into
// individual future occurrences is handled by the caller via
// NextOccurrence, not by materializing a window per occurrence, per §4.6
// "its start/end and recurrence override body values."
func DetectFromICS(payload string, scopeFallback string) (*database.MaintenanceWindow, error) {
	cal, err := ics.ParseCalendar(strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("maintenance: parsing ICS payload: %w", err)
	}

	events := cal.Events()
	if len(events) == 0 {
		return nil, fmt.Errorf("maintenance: ICS payload has no VEVENT")
	}
	ev := events[0]

	start, err := ev.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("maintenance: ICS event missing DTSTART: %w", err)
	}
	end, err := ev.GetEndAt()
	if err != nil {
		end = start.Add(time.Hour)
	}

	w := &database.MaintenanceWindow{
		UUID:     uuid.NewString(),
		Source:   database.MaintenanceSourceGraph,
		Title:    firstNonEmpty(ev.GetProperty(ics.ComponentPropertySummary)),
		StartAt:  start,
		EndAt:    end,
		Timezone: "UTC",
		IsActive: true,
	}

	if organizer := ev.GetProperty(ics.ComponentPropertyOrganizer); organizer != nil {
		w.Organizer = organizer.Value
	}
	if uid := ev.GetProperty(ics.ComponentPropertyUniqueId); uid != nil {
		w.ExternalEventID = uid.Value
	}

	if rule := ev.GetProperty(ics.ComponentPropertyRrule); rule != nil {
		w.IsRecurring = true
		w.RecurrenceRule = rule.Value
	}

	description := ""
	if d := ev.GetProperty(ics.ComponentPropertyDescription); d != nil {
		description = d.Value
	}
	mode := database.SuppressModeMute
	scopeRaw := scopeFallback
	if fields := parseFieldLines(description); len(fields) > 0 {
		if fields["mode"] != "" {
			mode = parseSuppressMode(fields["mode"])
		}
		if fields["scope"] != "" {
			scopeRaw = fields["scope"]
		}
		if w.Title == "" {
			w.Title = fields["title"]
		}
	}
	w.SuppressMode = mode

	scope, err := ParseScopeSelectors(scopeRaw)
	if err != nil {
		return nil, fmt.Errorf("maintenance: parsing ICS scope: %w", err)
	}
	w.SetScope(scope)

	return w, nil
}

// NextOccurrence returns the next start time of a recurring window's
// RRULE on or after from, used by the evaluation tick to decide whether
// a recurring window is currently active without materializing every
// future occurrence as its own row.
func NextOccurrence(w *database.MaintenanceWindow, from time.Time) (time.Time, bool) {
	if !w.IsRecurring || w.RecurrenceRule == "" {
		return time.Time{}, false
	}
	option, err := rrule.StrToROption(w.RecurrenceRule)
	if err != nil {
		return time.Time{}, false
	}
	option.Dtstart = w.StartAt
	r, err := rrule.NewRRule(*option)
	if err != nil {
		return time.Time{}, false
	}
	next := r.After(from, true)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func firstNonEmpty(prop *ics.IANAProperty) string {
	if prop == nil {
		return ""
	}
	return prop.Value
}
