// Package configstore implements versioned configuration storage and
// rollback for the runtime-tunable sections named in §6 (parsers,
// correlation, maintenance, llm, quarantine, dlq), grounded in
// original_source/config_versioning.py's ConfigVersioning class.
package configstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
)

// Store saves a new version of section's configuration. If the most
// recent version for this section has identical content, no new row is
// created and that version is returned instead (mirroring the original's
// hash-based dedup, done here via a content comparison since
// database.ConfigVersion has no dedicated hash column). When activate is
// true the new (or matching existing) version becomes the active one for
// its section, deactivating whichever version held that position before.
func Store(db *gorm.DB, section string, content map[string]interface{}, activate bool, now time.Time) (*database.ConfigVersion, error) {
	var result *database.ConfigVersion
	err := db.Transaction(func(tx *gorm.DB) error {
		var latest database.ConfigVersion
		err := tx.Where("section = ?", section).Order("version DESC").First(&latest).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return errs.Transient("configstore.find_latest", err)
		}

		if err == nil && contentHash(latest.Content) == contentHash(content) {
			if activate && !latest.IsActive {
				if err := activateInTx(tx, section, latest.ID, now); err != nil {
					return err
				}
				if err := tx.First(&latest, latest.ID).Error; err != nil {
					return errs.Transient("configstore.reload_after_activate", err)
				}
			}
			result = &latest
			return nil
		}

		nextVersion := 1
		if err == nil {
			nextVersion = latest.Version + 1
		}

		if activate {
			if err := deactivateAll(tx, section, now); err != nil {
				return err
			}
		}

		cv := &database.ConfigVersion{
			Section: section,
			Version: nextVersion,
			Content: database.JSONB(content),
		}
		if activate {
			cv.IsActive = true
			cv.ActivatedAt = &now
		}
		if err := tx.Create(cv).Error; err != nil {
			return errs.Invariant("configstore.create_version", err)
		}
		result = cv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Activate makes versionID the active version for section, deactivating
// whichever version currently holds that position. Returns an error if
// versionID does not belong to section.
func Activate(db *gorm.DB, section string, versionID uint, now time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return activateInTx(tx, section, versionID, now)
	})
}

// Rollback activates a prior version for section. It is Activate under a
// name that states intent at call sites, matching the original's
// rollback() being a thin wrapper over activate_version().
func Rollback(db *gorm.DB, section string, versionID uint, now time.Time) error {
	return Activate(db, section, versionID, now)
}

func activateInTx(tx *gorm.DB, section string, versionID uint, now time.Time) error {
	var version database.ConfigVersion
	if err := tx.First(&version, versionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errs.Data("configstore.activate", fmt.Errorf("version %d not found", versionID))
		}
		return errs.Transient("configstore.activate_lookup", err)
	}
	if version.Section != section {
		return errs.Data("configstore.activate", fmt.Errorf("version %d belongs to section %q, not %q", versionID, version.Section, section))
	}

	if err := deactivateAll(tx, section, now); err != nil {
		return err
	}

	version.IsActive = true
	version.ActivatedAt = &now
	if err := tx.Save(&version).Error; err != nil {
		return errs.Invariant("configstore.activate_save", err)
	}
	return nil
}

func deactivateAll(tx *gorm.DB, section string, now time.Time) error {
	err := tx.Model(&database.ConfigVersion{}).
		Where("section = ? AND is_active = ?", section, true).
		Updates(map[string]interface{}{"is_active": false}).Error
	if err != nil {
		return errs.Transient("configstore.deactivate_all", err)
	}
	return nil
}

// GetActive returns the currently active version for section, or
// gorm.ErrRecordNotFound if none has ever been activated.
func GetActive(db *gorm.DB, section string) (*database.ConfigVersion, error) {
	var cv database.ConfigVersion
	err := db.Where("section = ? AND is_active = ?", section, true).First(&cv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		return nil, errs.Transient("configstore.get_active", err)
	}
	return &cv, nil
}

// History returns up to limit versions for section, most recent first.
func History(db *gorm.DB, section string, limit int) ([]database.ConfigVersion, error) {
	var versions []database.ConfigVersion
	err := db.Where("section = ?", section).Order("version DESC").Limit(limit).Find(&versions).Error
	if err != nil {
		return nil, errs.Transient("configstore.history", err)
	}
	return versions, nil
}

// Diff is a key-level comparison between two config versions of the same
// section, mirroring compare_versions' added/removed/modified shape.
type Diff struct {
	Added    map[string]interface{} `json:"added"`
	Removed  map[string]interface{} `json:"removed"`
	Modified map[string]ValueChange `json:"modified"`
}

// ValueChange records one key's old and new value in a Diff.
type ValueChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Compare returns a key-level diff between two versions. Both must
// belong to the same section.
func Compare(db *gorm.DB, versionID1, versionID2 uint) (*Diff, error) {
	var v1, v2 database.ConfigVersion
	if err := db.First(&v1, versionID1).Error; err != nil {
		return nil, errs.Data("configstore.compare", fmt.Errorf("version %d not found", versionID1))
	}
	if err := db.First(&v2, versionID2).Error; err != nil {
		return nil, errs.Data("configstore.compare", fmt.Errorf("version %d not found", versionID2))
	}
	if v1.Section != v2.Section {
		return nil, errs.Data("configstore.compare", fmt.Errorf("cannot compare versions from different sections %q and %q", v1.Section, v2.Section))
	}

	diff := &Diff{
		Added:    map[string]interface{}{},
		Removed:  map[string]interface{}{},
		Modified: map[string]ValueChange{},
	}

	for k, v := range v2.Content {
		if _, ok := v1.Content[k]; !ok {
			diff.Added[k] = v
		}
	}
	for k, v := range v1.Content {
		if _, ok := v2.Content[k]; !ok {
			diff.Removed[k] = v
		}
	}
	for k, v1Val := range v1.Content {
		if v2Val, ok := v2.Content[k]; ok && !equalJSON(v1Val, v2Val) {
			diff.Modified[k] = ValueChange{Old: v1Val, New: v2Val}
		}
	}

	return diff, nil
}

// contentHash computes a stable hash of a JSON-object config, sorting
// keys so equivalent maps with different insertion order hash the same.
// Mirrors the original's yaml.dump(sort_keys=True) + sha256 approach,
// substituting JSON since Go's encoding/json already sorts map keys on
// marshal.
func contentHash(content map[string]interface{}) string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, content[k])
	}
	data, err := json.Marshal(ordered)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func equalJSON(a, b interface{}) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aj) == string(bj)
}
