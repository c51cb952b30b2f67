// Package idempotency makes a processing step exactly-once against
// retries and redelivery by reserving a key before doing the work and
// recording its outcome afterward (§5).
package idempotency

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
)

// ErrAlreadyProcessing is returned by Begin when another worker holds
// the reservation and it has not gone stale yet.
var ErrAlreadyProcessing = errors.New("idempotency: key is currently being processed by another worker")

// Reservation is the outcome of Begin: either the caller now owns the
// key and must call Complete or Fail, or a prior completed result is
// already available.
type Reservation struct {
	Key          string
	AlreadyDone  bool
	CachedResult json.RawMessage
	key          *database.IdempotencyKey
}

// Begin reserves key for exclusive processing. ttl is how long the key
// (and any cached result) remains valid; staleAfter is how long a
// `processing` reservation may sit before another worker is allowed to
// reclaim it, per §5's 24h expiry / 5-minute stale-reclaim.
func Begin(db *gorm.DB, key string, ttl, staleAfter time.Duration, now time.Time) (*Reservation, error) {
	row := &database.IdempotencyKey{
		Key:       key,
		Status:    database.IdempotencyProcessing,
		ExpiresAt: now.Add(ttl),
	}

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		return nil, errs.Transient("idempotency.reserve", result.Error)
	}
	if result.RowsAffected == 1 {
		// We minted the row: nobody else holds this key.
		return &Reservation{Key: key, key: row}, nil
	}

	// The key already existed. Load it to decide whether it is a
	// completed result, a stale reservation to reclaim, or a live
	// reservation another worker still owns.
	var existing database.IdempotencyKey
	if err := db.Where("key = ?", key).First(&existing).Error; err != nil {
		return nil, errs.Transient("idempotency.load_reservation", err)
	}

	if existing.Status == database.IdempotencyCompleted {
		return &Reservation{Key: key, AlreadyDone: true, CachedResult: jsonbToRaw(existing.ResultJSON)}, nil
	}

	if existing.Stale(staleAfter, now) {
		if err := db.Model(&existing).Updates(map[string]interface{}{
			"status": database.IdempotencyProcessing,
		}).Error; err != nil {
			return nil, errs.Transient("idempotency.reclaim_stale", err)
		}
		return &Reservation{Key: key, key: &existing}, nil
	}

	return nil, ErrAlreadyProcessing
}

// Complete records a successful outcome and marks the key completed.
func (r *Reservation) Complete(db *gorm.DB, result interface{}) error {
	var payload database.JSONB
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return errs.Data("idempotency.marshal_result", err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			// result wasn't a JSON object (e.g. a scalar); wrap it.
			payload = database.JSONB{"value": result}
		} else {
			payload = database.JSONB(m)
		}
	}

	err := db.Model(&database.IdempotencyKey{}).Where("key = ?", r.Key).Updates(map[string]interface{}{
		"result_json": payload,
		"status":      database.IdempotencyCompleted,
	}).Error
	if err != nil {
		return errs.Transient("idempotency.complete", err)
	}
	return nil
}

// Fail releases the reservation without marking it completed, leaving
// the key in `processing` until it goes stale and is reclaimed by a
// future attempt.
func (r *Reservation) Fail(db *gorm.DB) error {
	return nil
}

// Cleanup deletes expired idempotency keys, grounded on the periodic
// housekeeping pass described in §5.
func Cleanup(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Where("expires_at < ?", now).Delete(&database.IdempotencyKey{})
	if res.Error != nil {
		return 0, errs.Transient("idempotency.cleanup", res.Error)
	}
	return res.RowsAffected, nil
}

func jsonbToRaw(j database.JSONB) json.RawMessage {
	if j == nil {
		return nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return nil
	}
	return raw
}
