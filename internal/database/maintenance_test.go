package database

import (
	"testing"
	"time"
)

func TestMaintenanceWindow_SetScopeAndScopeRoundTrip(t *testing.T) {
	w := &MaintenanceWindow{}
	scope := Scope{
		{Key: "host", Values: []string{"web-*"}},
		{Key: "env", Values: []string{"prod", "staging"}},
	}
	w.SetScope(scope)

	// Round trip through the JSONB driver, since Scope() must decode from
	// generic interface{} the way it will actually arrive after a real
	// database round trip, not from the original typed Go value.
	raw, err := w.ScopeJSON.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded JSONB
	if err := decoded.Scan(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.ScopeJSON = decoded

	got := w.Scope()
	if len(got) != 2 {
		t.Fatalf("expected 2 selectors after round trip, got %d: %+v", len(got), got)
	}
	if got[0].Key != "host" || len(got[0].Values) != 1 || got[0].Values[0] != "web-*" {
		t.Errorf("unexpected first selector: %+v", got[0])
	}
	if got[1].Key != "env" || len(got[1].Values) != 2 {
		t.Errorf("unexpected second selector: %+v", got[1])
	}
}

func TestMaintenanceWindow_Scope_EmptyWhenUnset(t *testing.T) {
	w := &MaintenanceWindow{}
	if got := w.Scope(); got != nil {
		t.Errorf("expected nil scope for unset window, got %v", got)
	}
}

func TestMaintenanceWindow_ActiveAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := &MaintenanceWindow{IsActive: true, StartAt: start, EndAt: end}

	if !w.ActiveAt(start) {
		t.Error("expected window active at its start instant (inclusive)")
	}
	if w.ActiveAt(end) {
		t.Error("expected window inactive at its end instant (exclusive)")
	}
	if !w.ActiveAt(start.Add(30 * time.Minute)) {
		t.Error("expected window active in the middle of its range")
	}
	if w.ActiveAt(start.Add(-time.Minute)) {
		t.Error("expected window inactive before its start")
	}
}

func TestMaintenanceWindow_ActiveAt_InactiveFlagAlwaysFalse(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	w := &MaintenanceWindow{IsActive: false, StartAt: start, EndAt: end}
	if w.ActiveAt(time.Now()) {
		t.Error("expected IsActive=false window to never report active")
	}
}
