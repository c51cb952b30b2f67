package correlator

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ngs-project/noisegate/internal/database"
)

func TestAutoResolveSweeper_ResolvesAfterQuietPeriodElapses(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	now := time.Now()

	inc := &database.Incident{
		UUID:              uuid.NewString(),
		FingerprintV2:     "fp-sweep-quiet",
		Host:              "web-01",
		Status:            database.IncidentStatusResolving,
		SeverityCurrent:   database.SeverityHigh,
		SeverityMax:       database.SeverityHigh,
		LastState:         database.AlertStateResolved,
		FirstSeenAt:       now.Add(-time.Hour),
		LastSeenAt:        now.Add(-5 * time.Minute),
		LastStateChangeAt: now.Add(-5 * time.Minute),
	}
	if err := db.Create(inc).Error; err != nil {
		t.Fatalf("creating incident: %v", err)
	}

	s := NewAutoResolveSweeper(db, cfg)
	n, err := s.Sweep(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 incident resolved, got %d", n)
	}

	var reloaded database.Incident
	db.First(&reloaded, inc.ID)
	if reloaded.Status != database.IncidentStatusResolved {
		t.Errorf("expected status resolved, got %q", reloaded.Status)
	}
	if reloaded.ResolutionReason != database.ResolutionReasonQuietPeriod {
		t.Errorf("expected quiet_period_elapsed reason, got %q", reloaded.ResolutionReason)
	}
}

func TestAutoResolveSweeper_DoesNotResolveBeforeQuietPeriodElapses(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	now := time.Now()

	inc := &database.Incident{
		UUID:              uuid.NewString(),
		FingerprintV2:     "fp-sweep-early",
		Host:              "web-01",
		Status:            database.IncidentStatusResolving,
		SeverityCurrent:   database.SeverityHigh,
		SeverityMax:       database.SeverityHigh,
		LastState:         database.AlertStateResolved,
		FirstSeenAt:       now.Add(-time.Hour),
		LastSeenAt:        now.Add(-10 * time.Second),
		LastStateChangeAt: now.Add(-10 * time.Second),
	}
	if err := db.Create(inc).Error; err != nil {
		t.Fatalf("creating incident: %v", err)
	}

	s := NewAutoResolveSweeper(db, cfg)
	n, err := s.Sweep(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no incidents resolved before the quiet period elapses, got %d", n)
	}
}

func TestAutoResolveSweeper_ResolvesSilentIncident(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	now := time.Now()

	inc := &database.Incident{
		UUID:              uuid.NewString(),
		FingerprintV2:     "fp-sweep-silent",
		Host:              "web-01",
		Status:            database.IncidentStatusOpen,
		SeverityCurrent:   database.SeverityHigh,
		SeverityMax:       database.SeverityHigh,
		LastState:         database.AlertStateUnknown,
		FirstSeenAt:       now.Add(-48 * time.Hour),
		LastSeenAt:        now.Add(-25 * time.Hour),
		LastStateChangeAt: now.Add(-25 * time.Hour),
	}
	if err := db.Create(inc).Error; err != nil {
		t.Fatalf("creating incident: %v", err)
	}

	s := NewAutoResolveSweeper(db, cfg)
	n, err := s.Sweep(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the silent incident to be resolved, got %d resolved", n)
	}

	var reloaded database.Incident
	db.First(&reloaded, inc.ID)
	if reloaded.ResolutionReason != database.ResolutionReasonSilenceTimeout {
		t.Errorf("expected silence_timeout reason, got %q", reloaded.ResolutionReason)
	}
}

func TestAutoResolveSweeper_DoesNotResolveSilentIncidentStillFiring(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	now := time.Now()

	inc := &database.Incident{
		UUID:              uuid.NewString(),
		FingerprintV2:     "fp-sweep-silent-firing",
		Host:              "web-01",
		Status:            database.IncidentStatusOpen,
		SeverityCurrent:   database.SeverityHigh,
		SeverityMax:       database.SeverityHigh,
		LastState:         database.AlertStateFiring,
		FirstSeenAt:       now.Add(-48 * time.Hour),
		LastSeenAt:        now.Add(-25 * time.Hour),
		LastStateChangeAt: now.Add(-25 * time.Hour),
	}
	if err := db.Create(inc).Error; err != nil {
		t.Fatalf("creating incident: %v", err)
	}

	s := NewAutoResolveSweeper(db, cfg)
	n, err := s.Sweep(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected a still-firing incident not to be auto-resolved by silence alone, got %d resolved", n)
	}

	var reloaded database.Incident
	db.First(&reloaded, inc.ID)
	if reloaded.Status != database.IncidentStatusOpen {
		t.Errorf("expected status to remain open, got %q", reloaded.Status)
	}
}

func TestAutoResolveSweeper_DoesNotTouchRecentlySeenIncident(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	now := time.Now()

	inc := &database.Incident{
		UUID:              uuid.NewString(),
		FingerprintV2:     "fp-sweep-active",
		Host:              "web-01",
		Status:            database.IncidentStatusOpen,
		SeverityCurrent:   database.SeverityHigh,
		SeverityMax:       database.SeverityHigh,
		LastState:         database.AlertStateFiring,
		FirstSeenAt:       now.Add(-time.Hour),
		LastSeenAt:        now.Add(-time.Minute),
		LastStateChangeAt: now.Add(-time.Minute),
	}
	if err := db.Create(inc).Error; err != nil {
		t.Fatalf("creating incident: %v", err)
	}

	s := NewAutoResolveSweeper(db, cfg)
	n, err := s.Sweep(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no incidents resolved, got %d", n)
	}
}
