package database

import "testing"

func TestDeadLetterEntry_Exhausted(t *testing.T) {
	d := &DeadLetterEntry{RetryCount: 5, MaxRetries: 5}
	if !d.Exhausted() {
		t.Error("expected exhausted when retry count reaches max")
	}
	d.RetryCount = 4
	if d.Exhausted() {
		t.Error("expected not exhausted below max")
	}
}
