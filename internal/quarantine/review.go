// Package quarantine implements the human review workflow for
// low-confidence or validation-failed extractions, grounded in
// original_source/worker/worker/quarantine.py.
package quarantine

import (
	"time"

	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
)

// Pending returns up to limit quarantine entries still awaiting review,
// oldest first. The RawEmail is not loaded; entries carry only its ID.
func Pending(db *gorm.DB, limit, offset int) ([]database.QuarantineEvent, error) {
	var entries []database.QuarantineEvent
	err := db.Where("review_outcome = ?", database.ReviewPending).
		Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, errs.Transient("quarantine.pending", err)
	}
	return entries, nil
}

// Count returns the number of entries still awaiting review.
func Count(db *gorm.DB) (int64, error) {
	var count int64
	if err := db.Model(&database.QuarantineEvent{}).Where("review_outcome = ?", database.ReviewPending).Count(&count).Error; err != nil {
		return 0, errs.Transient("quarantine.count", err)
	}
	return count, nil
}

// Review records a human decision on a pending quarantine entry and, for
// approve/edit, re-queues its RawEmail for reprocessing by resetting
// parse_status to pending; for reject, marks the RawEmail permanently
// failed instead. Returns gorm.ErrRecordNotFound if the entry does not
// exist or has already been reviewed (mirroring the original's
// UPDATE ... WHERE id = $1 AND reviewed_at IS NULL returning zero rows).
func Review(db *gorm.DB, quarantineID uint, outcome database.ReviewOutcome, reviewer string, editedData database.JSONB, note string, now time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var entry database.QuarantineEvent
		err := tx.Where("id = ? AND review_outcome = ?", quarantineID, database.ReviewPending).First(&entry).Error
		if err == gorm.ErrRecordNotFound {
			return err
		}
		if err != nil {
			return errs.Transient("quarantine.review_lookup", err)
		}

		entry.ReviewOutcome = outcome
		entry.ReviewedBy = reviewer
		entry.ReviewedAt = &now
		entry.ReviewNote = note
		if outcome == database.ReviewEdited {
			entry.EditedData = editedData
		}
		if err := tx.Save(&entry).Error; err != nil {
			return errs.Invariant("quarantine.review_save", err)
		}

		switch outcome {
		case database.ReviewApproved, database.ReviewEdited:
			if err := tx.Model(&database.RawEmail{}).Where("id = ?", entry.RawEmailID).
				Updates(map[string]interface{}{
					"parse_status": database.RawEmailPending,
					"parse_error":  "",
				}).Error; err != nil {
				return errs.Invariant("quarantine.requeue_raw_email", err)
			}
		case database.ReviewRejected:
			if err := tx.Model(&database.RawEmail{}).Where("id = ?", entry.RawEmailID).
				Updates(map[string]interface{}{
					"parse_status": database.RawEmailFailed,
					"parse_error":  "rejected during quarantine review",
				}).Error; err != nil {
				return errs.Invariant("quarantine.reject_raw_email", err)
			}
		}

		return nil
	})
}

// Stats summarizes the current quarantine backlog, mirroring the
// original's get_quarantine_stats.
type Stats struct {
	Pending              int64
	Approved             int64
	Rejected             int64
	Edited               int64
	AvgPendingConfidence float64
	ByReason             map[string]int64
}

// GetStats computes Stats over the full quarantine_events table.
func GetStats(db *gorm.DB) (*Stats, error) {
	s := &Stats{ByReason: map[string]int64{}}

	counts := []struct {
		outcome database.ReviewOutcome
		target  *int64
	}{
		{database.ReviewPending, &s.Pending},
		{database.ReviewApproved, &s.Approved},
		{database.ReviewRejected, &s.Rejected},
		{database.ReviewEdited, &s.Edited},
	}
	for _, c := range counts {
		if err := db.Model(&database.QuarantineEvent{}).Where("review_outcome = ?", c.outcome).Count(c.target).Error; err != nil {
			return nil, errs.Transient("quarantine.stats_count", err)
		}
	}

	var avg float64
	row := db.Model(&database.QuarantineEvent{}).Where("review_outcome = ?", database.ReviewPending).
		Select("COALESCE(AVG(confidence), 0)").Row()
	if row != nil {
		if err := row.Scan(&avg); err != nil {
			return nil, errs.Transient("quarantine.stats_avg", err)
		}
	}
	s.AvgPendingConfidence = avg

	var byReason []struct {
		Reason string
		Count  int64
	}
	err := db.Model(&database.QuarantineEvent{}).
		Where("review_outcome = ?", database.ReviewPending).
		Select("reason, COUNT(*) as count").
		Group("reason").
		Scan(&byReason).Error
	if err != nil {
		return nil, errs.Transient("quarantine.stats_by_reason", err)
	}
	for _, r := range byReason {
		s.ByReason[r.Reason] = r.Count
	}

	return s, nil
}

// CleanupOld deletes reviewed entries older than olderThan, mirroring
// cleanup_old_quarantine.
func CleanupOld(db *gorm.DB, olderThan time.Time) (int64, error) {
	result := db.Where("review_outcome != ? AND reviewed_at < ?", database.ReviewPending, olderThan).
		Delete(&database.QuarantineEvent{})
	if result.Error != nil {
		return 0, errs.Transient("quarantine.cleanup_old", result.Error)
	}
	return result.RowsAffected, nil
}
