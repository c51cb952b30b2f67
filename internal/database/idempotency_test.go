package database

import (
	"testing"
	"time"
)

func TestIdempotencyKey_Stale(t *testing.T) {
	now := time.Now()
	k := &IdempotencyKey{Status: IdempotencyProcessing, UpdatedAt: now.Add(-10 * time.Minute)}
	if !k.Stale(5*time.Minute, now) {
		t.Error("expected a processing reservation older than the stale threshold to be stale")
	}
	if k.Stale(15*time.Minute, now) {
		t.Error("expected not stale when under the threshold")
	}
}

func TestIdempotencyKey_CompletedNeverStale(t *testing.T) {
	now := time.Now()
	k := &IdempotencyKey{Status: IdempotencyCompleted, UpdatedAt: now.Add(-24 * time.Hour)}
	if k.Stale(5*time.Minute, now) {
		t.Error("a completed key should never be reclaimed as stale")
	}
}
