package configstore

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := database.AutoMigrateOn(db); err != nil {
		t.Fatalf("auto-migrating: %v", err)
	}
	return db
}

func TestStore_FirstVersionIsVersionOneAndActive(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	cv, err := Store(db, "parsers", map[string]interface{}{"min_confidence": 0.6}, true, now)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if cv.Version != 1 {
		t.Errorf("expected version 1, got %d", cv.Version)
	}
	if !cv.IsActive {
		t.Error("expected first version to be active")
	}
}

func TestStore_SecondVersionDeactivatesFirst(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	first, err := Store(db, "parsers", map[string]interface{}{"min_confidence": 0.6}, true, now)
	if err != nil {
		t.Fatalf("Store first: %v", err)
	}

	second, err := Store(db, "parsers", map[string]interface{}{"min_confidence": 0.8}, true, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if second.Version != 2 {
		t.Errorf("expected version 2, got %d", second.Version)
	}

	var reloaded database.ConfigVersion
	if err := db.First(&reloaded, first.ID).Error; err != nil {
		t.Fatalf("reloading first version: %v", err)
	}
	if reloaded.IsActive {
		t.Error("expected first version to be deactivated once second activates")
	}
}

func TestStore_IdenticalContentReturnsExistingVersionWithoutCreatingNewRow(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	content := map[string]interface{}{"min_confidence": 0.6, "rate_limit": float64(60)}
	first, err := Store(db, "llm", content, true, now)
	if err != nil {
		t.Fatalf("Store first: %v", err)
	}

	again, err := Store(db, "llm", map[string]interface{}{"rate_limit": float64(60), "min_confidence": 0.6}, true, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Store again: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("expected identical content to reuse version %d, got new version %d", first.ID, again.ID)
	}

	var count int64
	if err := db.Model(&database.ConfigVersion{}).Where("section = ?", "llm").Count(&count).Error; err != nil {
		t.Fatalf("counting versions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 stored version, got %d", count)
	}
}

func TestActivate_RejectsVersionFromWrongSection(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	cv, err := Store(db, "maintenance", map[string]interface{}{"tick_seconds": float64(60)}, true, now)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := Activate(db, "parsers", cv.ID, now); err == nil {
		t.Fatal("expected error activating a maintenance version under the parsers section")
	}
}

func TestRollback_ReactivatesPriorVersion(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	first, err := Store(db, "dlq", map[string]interface{}{"max_retries": float64(5)}, true, now)
	if err != nil {
		t.Fatalf("Store first: %v", err)
	}
	if _, err := Store(db, "dlq", map[string]interface{}{"max_retries": float64(10)}, true, now.Add(time.Minute)); err != nil {
		t.Fatalf("Store second: %v", err)
	}

	if err := Rollback(db, "dlq", first.ID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	active, err := GetActive(db, "dlq")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("expected rollback to reactivate version %d, got %d", first.ID, active.ID)
	}
}

func TestHistory_ReturnsVersionsMostRecentFirst(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := Store(db, "correlation", map[string]interface{}{"flap_threshold": float64(i)}, true, now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}

	versions, err := History(db, "correlation", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].Version != 3 || versions[2].Version != 1 {
		t.Errorf("expected versions in descending order, got %v", []int{versions[0].Version, versions[1].Version, versions[2].Version})
	}
}

func TestCompare_ReportsAddedRemovedAndModifiedKeys(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	v1, err := Store(db, "quarantine", map[string]interface{}{
		"confidence_threshold": 0.6,
		"legacy_flag":          true,
	}, true, now)
	if err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	v2, err := Store(db, "quarantine", map[string]interface{}{
		"confidence_threshold": 0.8,
		"new_flag":             true,
	}, true, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Store v2: %v", err)
	}

	diff, err := Compare(db, v1.ID, v2.ID)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if _, ok := diff.Added["new_flag"]; !ok {
		t.Error("expected new_flag to be reported as added")
	}
	if _, ok := diff.Removed["legacy_flag"]; !ok {
		t.Error("expected legacy_flag to be reported as removed")
	}
	if change, ok := diff.Modified["confidence_threshold"]; !ok {
		t.Error("expected confidence_threshold to be reported as modified")
	} else if change.Old != 0.6 || change.New != 0.8 {
		t.Errorf("unexpected modified values: %+v", change)
	}
}

func TestCompare_RejectsVersionsFromDifferentSections(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	v1, err := Store(db, "parsers", map[string]interface{}{"a": 1}, true, now)
	if err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	v2, err := Store(db, "llm", map[string]interface{}{"a": 1}, true, now)
	if err != nil {
		t.Fatalf("Store v2: %v", err)
	}

	if _, err := Compare(db, v1.ID, v2.ID); err == nil {
		t.Fatal("expected error comparing versions across sections")
	}
}
