package maintenance

import (
	"strings"
	"testing"
	"time"

	"github.com/ngs-project/noisegate/internal/database"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//NGS//Test//EN
BEGIN:VEVENT
UID:maint-1234@example.com
DTSTAMP:20260301T000000Z
DTSTART:20260301T020000Z
DTEND:20260301T040000Z
SUMMARY:Database failover maintenance
ORGANIZER:mailto:ops@example.com
RRULE:FREQ=WEEKLY;BYDAY=SU
DESCRIPTION:Mode: downgrade\nScope: host=db-*\,env=prod
END:VEVENT
END:VCALENDAR
`

func TestDetectFromICS_ParsesEventFields(t *testing.T) {
	w, err := DetectFromICS(sampleICS, "host=fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(w.Title, "Database failover") {
		t.Errorf("expected summary as title, got %q", w.Title)
	}
	if w.ExternalEventID != "maint-1234@example.com" {
		t.Errorf("expected UID as external event id, got %q", w.ExternalEventID)
	}
	if !w.IsRecurring || w.RecurrenceRule == "" {
		t.Error("expected recurring window with an RRULE stored")
	}
	if w.StartAt.IsZero() || w.EndAt.IsZero() {
		t.Error("expected parsed start/end")
	}
}

func TestDetectFromICS_NoEventsIsError(t *testing.T) {
	empty := "BEGIN:VCALENDAR\nVERSION:2.0\nEND:VCALENDAR\n"
	if _, err := DetectFromICS(empty, ""); err == nil {
		t.Fatal("expected error for a calendar with no VEVENT")
	}
}

func TestNextOccurrence_NonRecurringReturnsFalse(t *testing.T) {
	w := newTestWindowForRRule(t, "", time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC))
	if _, ok := NextOccurrence(w, time.Now()); ok {
		t.Error("expected no next occurrence for a non-recurring window")
	}
}

func TestNextOccurrence_WeeklyRecurrenceAdvances(t *testing.T) {
	start := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC) // a Sunday
	w := newTestWindowForRRule(t, "FREQ=WEEKLY;BYDAY=SU", start)

	next, ok := NextOccurrence(w, start.Add(time.Hour))
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if !next.After(start) {
		t.Errorf("expected next occurrence after the first start, got %v", next)
	}
	if next.Sub(start) != 7*24*time.Hour {
		t.Errorf("expected next occurrence one week later, got delta %v", next.Sub(start))
	}
}

func newTestWindowForRRule(t *testing.T, rule string, start time.Time) *database.MaintenanceWindow {
	t.Helper()
	return &database.MaintenanceWindow{
		IsRecurring:    rule != "",
		RecurrenceRule: rule,
		StartAt:        start,
		EndAt:          start.Add(2 * time.Hour),
	}
}
