package parser

import (
	"testing"

	"github.com/ngs-project/noisegate/internal/database"
)

func TestApplyRule_ExtractsFields(t *testing.T) {
	rs, err := LoadRules([]byte(sampleRules))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := rs.Rules[0]

	body := "Host: WEB-01.\nSeverity: CRITICAL\nState: FIRING\nregion=us-east-1"
	f, ok := ApplyRule(r, "** PROBLEM ** Host down", body)
	if !ok {
		t.Fatal("expected rule to produce fields")
	}
	if f.Host != "web-01" {
		t.Errorf("expected normalized host web-01, got %q", f.Host)
	}
	if f.Severity != database.SeverityCritical {
		t.Errorf("expected critical severity, got %q", f.Severity)
	}
	if f.State != database.AlertStateFiring {
		t.Errorf("expected firing state, got %q", f.State)
	}
	foundTag := false
	for _, tag := range f.Tags {
		if tag == "region=us-east-1" {
			foundTag = true
		}
	}
	if !foundTag {
		t.Errorf("expected key=value fragment tag, got %v", f.Tags)
	}
}

const checkNameRules = `
rules:
  - name: nagios-check
    subject_prefix: "** PROBLEM **"
    host_pattern: "Host:\\s*(\\S+)"
    check_name_pattern: "Check:\\s*(.+)"
    severity_pattern: "Severity:\\s*(\\w+)"
`

func TestApplyRule_ExtractsCheckName(t *testing.T) {
	rs, err := LoadRules([]byte(checkNameRules))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := "Host: web-01\nCheck: disk_usage_root\nSeverity: CRITICAL"
	f, ok := ApplyRule(rs.Rules[0], "** PROBLEM ** disk", body)
	if !ok {
		t.Fatal("expected rule to produce fields")
	}
	if f.CheckName != "disk_usage_root" {
		t.Errorf("expected check name disk_usage_root, got %q", f.CheckName)
	}
}

func TestApplyRule_NoHostMatchIsNotAHit(t *testing.T) {
	rs, _ := LoadRules([]byte(sampleRules))
	_, ok := ApplyRule(rs.Rules[0], "** PROBLEM **", "no host line here")
	if ok {
		t.Error("expected no hit when host pattern does not match")
	}
}

func TestNormalizeSeverity_UnknownDefaultsToMedium(t *testing.T) {
	if got := NormalizeSeverity("BOGUS", nil); got != database.SeverityMedium {
		t.Errorf("expected medium default, got %q", got)
	}
}

func TestNormalizeSeverity_UsesRuleMapOverBuiltin(t *testing.T) {
	m := map[string]string{"WARNING": "high"}
	if got := NormalizeSeverity("WARNING", m); got != database.SeverityHigh {
		t.Errorf("expected rule-mapped high, got %q", got)
	}
}

func TestNormalizeState_OKMeansResolved(t *testing.T) {
	if got := NormalizeState("OK"); got != database.AlertStateResolved {
		t.Errorf("expected resolved, got %q", got)
	}
	if got := NormalizeState("RECOVERY"); got != database.AlertStateResolved {
		t.Errorf("expected resolved, got %q", got)
	}
}

func TestNormalizeHost_LowercasesAndStripsTrailingDot(t *testing.T) {
	if got := NormalizeHost("WEB-01."); got != "web-01" {
		t.Errorf("expected web-01, got %q", got)
	}
}

func TestUnionTags_DeduplicatesStaticAndBodyTags(t *testing.T) {
	tags := unionTags([]string{"env=prod"}, "env=prod region=us-west-2")
	count := 0
	for _, tg := range tags {
		if tg == "env=prod" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected env=prod deduplicated once, got %d occurrences in %v", count, tags)
	}
}
