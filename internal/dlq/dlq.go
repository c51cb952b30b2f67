// Package dlq implements the dead-letter queue: buffering processing
// steps that exhausted their inline retries, and dispatching them again
// on a jittered exponential backoff schedule (§5).
package dlq

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
)

// Config holds the DLQ tunables sourced from internal/config.DLQConfig.
type Config struct {
	BaseBackoff   time.Duration
	CapBackoff    time.Duration
	MaxRetries    int
	JitterPercent float64
}

// Enqueue records a new dead-letter entry for eventType/payload, ready
// for its first retry after one base backoff interval.
func Enqueue(db *gorm.DB, cfg Config, eventType string, payload database.JSONB, errText string, now time.Time) (*database.DeadLetterEntry, error) {
	entry := &database.DeadLetterEntry{
		UUID:        uuid.NewString(),
		EventType:   eventType,
		Payload:     payload,
		ErrorText:   errText,
		MaxRetries:  cfg.MaxRetries,
		NextRetryAt: now.Add(nextBackoff(cfg, 0)),
		Status:      database.DLQPending,
	}
	if err := db.Create(entry).Error; err != nil {
		return nil, errs.Transient("dlq.enqueue", err)
	}
	return entry, nil
}

// ClaimBatch atomically claims up to batchSize entries ready for retry,
// marking them `retrying` and bumping retry_count, using SELECT ... FOR
// UPDATE SKIP LOCKED so multiple workers can dispatch concurrently
// without claiming the same entry twice.
func ClaimBatch(db *gorm.DB, batchSize int, now time.Time) ([]database.DeadLetterEntry, error) {
	var claimed []database.DeadLetterEntry

	err := db.Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status = ? AND next_retry_at <= ? AND retry_count < max_retries", database.DLQPending, now).
			Order("created_at").
			Limit(batchSize)

		// SKIP LOCKED only exists on Postgres; sqlite (used in tests and
		// single-process deployments) has no concurrent claimants to
		// guard against, and rejects the syntax outright.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []database.DeadLetterEntry
		if err := query.Find(&candidates).Error; err != nil {
			return err
		}

		for i := range candidates {
			candidates[i].Status = database.DLQRetrying
			candidates[i].RetryCount++
			if err := tx.Save(&candidates[i]).Error; err != nil {
				return err
			}
		}
		claimed = candidates
		return nil
	})
	if err != nil {
		return nil, errs.Transient("dlq.claim_batch", err)
	}
	return claimed, nil
}

// MarkResolved records that a retried entry finally succeeded.
func MarkResolved(db *gorm.DB, entry *database.DeadLetterEntry) error {
	entry.Status = database.DLQResolved
	if err := db.Save(entry).Error; err != nil {
		return errs.Transient("dlq.mark_resolved", err)
	}
	return nil
}

// MarkFailed records another failed retry attempt. If the entry has
// exhausted its retry budget it becomes permanently `failed`; otherwise
// it goes back to `pending` with a fresh jittered backoff.
func MarkFailed(db *gorm.DB, cfg Config, entry *database.DeadLetterEntry, errText string, now time.Time) error {
	entry.ErrorText = errText
	if entry.Exhausted() {
		entry.Status = database.DLQFailed
		entry.NextRetryAt = now
	} else {
		entry.Status = database.DLQPending
		entry.NextRetryAt = now.Add(nextBackoff(cfg, entry.RetryCount))
	}
	if err := db.Save(entry).Error; err != nil {
		return errs.Transient("dlq.mark_failed", err)
	}
	return nil
}

// Requeue forces a failed or still-backing-off entry to be claimable
// immediately, for an operator replaying a dead-letter entry by hand
// rather than waiting out its scheduled backoff. It does not reset
// retry_count, so a manually replayed entry still counts toward
// max_retries.
func Requeue(db *gorm.DB, entryUUID string, now time.Time) (*database.DeadLetterEntry, error) {
	var entry database.DeadLetterEntry
	if err := db.Where("uuid = ?", entryUUID).First(&entry).Error; err != nil {
		return nil, errs.Transient("dlq.requeue_lookup", err)
	}
	entry.Status = database.DLQPending
	entry.NextRetryAt = now
	if err := db.Save(&entry).Error; err != nil {
		return nil, errs.Transient("dlq.requeue", err)
	}
	return &entry, nil
}

// nextBackoff computes base*2^retryCount, capped, with +/- jitterPercent
// applied, per §5's jittered exponential backoff.
func nextBackoff(cfg Config, retryCount int) time.Duration {
	backoff := float64(cfg.BaseBackoff) * math.Pow(2, float64(retryCount))
	if maxBackoff := float64(cfg.CapBackoff); maxBackoff > 0 && backoff > maxBackoff {
		backoff = maxBackoff
	}
	if cfg.JitterPercent > 0 {
		delta := backoff * cfg.JitterPercent
		backoff += (rand.Float64()*2 - 1) * delta
		if backoff < 0 {
			backoff = 0
		}
	}
	return time.Duration(backoff)
}
