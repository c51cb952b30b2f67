package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/correlator"
	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/parser"
)

func testSweeper(t *testing.T, db *gorm.DB, staleAfter time.Duration) *ReprocessSweeper {
	t.Helper()
	rs, err := parser.LoadRules([]byte(alertRules))
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	return NewReprocessSweeper(
		db,
		&parser.Pipeline{
			DB:              db,
			Rules:           rs,
			CacheMinSuccess: 70,
			SourceTool:      "email",
		},
		correlator.Config{
			FlapThreshold:      3,
			FlapWindow:         30 * time.Minute,
			ResolveQuietPeriod: 2 * time.Minute,
			AutoResolveAfter:   24 * time.Hour,
		},
		staleAfter,
	)
}

func insertStaleRawEmail(t *testing.T, db *gorm.DB, subject, body string, createdAt time.Time) *database.RawEmail {
	t.Helper()
	re := &database.RawEmail{
		UUID:        uuid.NewString(),
		Folder:      "INBOX",
		UID:         uint64(createdAt.UnixNano()),
		Subject:     subject,
		BodyText:    body,
		ReceivedAt:  createdAt,
		ParseStatus: database.RawEmailPending,
	}
	if err := db.Create(re).Error; err != nil {
		t.Fatalf("creating raw email: %v", err)
	}
	// CreatedAt is stamped by gorm on Create; force it back to simulate age.
	if err := db.Model(re).Update("created_at", createdAt).Error; err != nil {
		t.Fatalf("backdating raw email: %v", err)
	}
	return re
}

const staleAlertBody = `** PROBLEM **
Host: db-07
Severity: CRITICAL
State: DOWN
`

func TestSweepOnce_ReprocessesStalePendingEmailIntoIncident(t *testing.T) {
	db := setupTestDB(t)
	sweeper := testSweeper(t, db, 10*time.Minute)

	stale := insertStaleRawEmail(t, db, "** PROBLEM ** db-07 is down", staleAlertBody, time.Now().Add(-1*time.Hour))

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	var reloaded database.RawEmail
	if err := db.First(&reloaded, stale.ID).Error; err != nil {
		t.Fatalf("reloading raw email: %v", err)
	}
	if reloaded.ParseStatus != database.RawEmailParsed {
		t.Errorf("expected parse_status=parsed, got %s", reloaded.ParseStatus)
	}

	var incidentCount int64
	db.Model(&database.Incident{}).Count(&incidentCount)
	if incidentCount != 1 {
		t.Errorf("expected 1 incident created from reprocessed email, got %d", incidentCount)
	}
}

func TestSweepOnce_IgnoresRecentPendingEmail(t *testing.T) {
	db := setupTestDB(t)
	sweeper := testSweeper(t, db, 10*time.Minute)

	recent := insertStaleRawEmail(t, db, "** PROBLEM ** db-08 is down", staleAlertBody, time.Now().Add(-1*time.Minute))

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	var reloaded database.RawEmail
	if err := db.First(&reloaded, recent.ID).Error; err != nil {
		t.Fatalf("reloading raw email: %v", err)
	}
	if reloaded.ParseStatus != database.RawEmailPending {
		t.Errorf("expected recent pending email to be left untouched, got %s", reloaded.ParseStatus)
	}
}

func TestSweepOnce_IgnoresAlreadyParsedEmail(t *testing.T) {
	db := setupTestDB(t)
	sweeper := testSweeper(t, db, 10*time.Minute)

	re := insertStaleRawEmail(t, db, "** PROBLEM ** db-09 is down", staleAlertBody, time.Now().Add(-1*time.Hour))
	if err := db.Model(re).Update("parse_status", database.RawEmailParsed).Error; err != nil {
		t.Fatalf("marking parsed: %v", err)
	}

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	var incidentCount int64
	db.Model(&database.Incident{}).Count(&incidentCount)
	if incidentCount != 0 {
		t.Errorf("expected no incident from an already-parsed email, got %d", incidentCount)
	}
}
