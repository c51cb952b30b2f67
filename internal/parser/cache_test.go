package parser

import (
	"testing"

	"github.com/ngs-project/noisegate/internal/database"
)

func TestEncodeDecodeCachedRule_RoundTrips(t *testing.T) {
	cr := CachedRule{
		HostPattern:     `Host:\s*(\S+)`,
		SeverityPattern: `Severity:\s*(\w+)`,
		SeverityMap:     map[string]string{"CRIT": "critical"},
		StaticTags:      []string{"source:learned"},
	}
	encoded, err := EncodeCachedRule(cr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeCachedRule(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.HostPattern != cr.HostPattern {
		t.Errorf("expected host pattern round trip, got %q", decoded.HostPattern)
	}
	if decoded.SeverityMap["CRIT"] != "critical" {
		t.Errorf("expected severity map round trip, got %v", decoded.SeverityMap)
	}
}

func TestApplyCachedRule_ExtractsHost(t *testing.T) {
	cr := CachedRule{HostPattern: `Host:\s*(\S+)`}
	f, ok, err := ApplyCachedRule(cr, "subject", "Host: db-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || f.Host != "db-02" {
		t.Errorf("expected host db-02, got %+v ok=%v", f, ok)
	}
}

func TestApplyCachedRule_ExtractsCheckName(t *testing.T) {
	cr := CachedRule{HostPattern: `Host:\s*(\S+)`, CheckNamePattern: `Check:\s*(\S+)`}
	f, ok, err := ApplyCachedRule(cr, "subject", "Host: db-02\nCheck: replication_lag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || f.CheckName != "replication_lag" {
		t.Errorf("expected check name replication_lag, got %+v ok=%v", f, ok)
	}
}

func TestApplyCachedRule_InvalidPatternReturnsError(t *testing.T) {
	cr := CachedRule{HostPattern: "(unterminated"}
	_, _, err := ApplyCachedRule(cr, "s", "b")
	if err == nil {
		t.Fatal("expected error for invalid cached pattern")
	}
}

func TestPatternCache_UsableReflectsSuccessRate(t *testing.T) {
	pc := &database.PatternCache{SuccessRate: 65}
	if pc.Usable(70) {
		t.Error("expected not usable below threshold")
	}
	pc.SuccessRate = 75
	if !pc.Usable(70) {
		t.Error("expected usable above threshold")
	}
}
