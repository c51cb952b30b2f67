package parser

import (
	"regexp"
	"strings"

	"github.com/ngs-project/noisegate/internal/database"
)

// Fields is the set of values a rule, a cached pattern, or the LLM
// fallback extracts from an email — the common currency every extraction
// path in the pipeline produces (§4.2 "Outputs").
type Fields struct {
	Host        string
	CheckName   string
	Service     string
	Severity    database.Severity
	State       database.AlertState
	Tags        []string
	Confidence  float64 // 1.0 for rule/cache matches; the LLM's own reported confidence for fallback
}

var kvFragment = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)=([^\s,;]+)`)

// ApplyRule runs a compiled static Rule against subject+body and returns
// the extracted Fields. ok is false if the rule's required patterns
// produced no host (a rule with no host match is not considered a hit).
func ApplyRule(r *Rule, subject, body string) (Fields, bool) {
	text := subject + "\n" + body

	host := firstSubmatch(r.hostRe, text)
	if host == "" {
		return Fields{}, false
	}

	f := Fields{
		Host:       NormalizeHost(host),
		CheckName:  strings.TrimSpace(firstSubmatch(r.checkNameRe, text)),
		Service:    firstSubmatch(r.serviceRe, text),
		Severity:   NormalizeSeverity(firstSubmatch(r.severityRe, text), r.SeverityMap),
		State:      NormalizeState(firstSubmatch(r.stateRe, text)),
		Tags:       unionTags(r.StaticTags, body),
		Confidence: 1.0,
	}
	return f, true
}

// NormalizeHost lowercases a host and strips a trailing dot, per §4.2
// "Field normalization".
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	return strings.TrimSuffix(h, ".")
}

// NormalizeSeverity maps a parser's native severity token to the core
// enum via its declared mapping, defaulting unknown tokens to medium
// per §4.2.
func NormalizeSeverity(token string, mapping map[string]string) database.Severity {
	t := strings.ToUpper(strings.TrimSpace(token))
	if t == "" {
		return database.SeverityMedium
	}
	if mapping != nil {
		if mapped, ok := mapping[t]; ok {
			if sev := database.Severity(strings.ToLower(mapped)); sev.Valid() {
				return sev
			}
		}
	}
	switch t {
	case "CRITICAL", "RED", "P1", "DISASTER", "EMERGENCY", "FATAL":
		return database.SeverityCritical
	case "HIGH", "ORANGE", "P2", "MAJOR", "ERROR", "SEVERE":
		return database.SeverityHigh
	case "MEDIUM", "YELLOW", "P3", "WARNING", "WARN", "AVERAGE":
		return database.SeverityMedium
	case "LOW", "P4", "MINOR", "NOTICE":
		return database.SeverityLow
	case "INFO", "INFORMATIONAL", "DEBUG":
		return database.SeverityInfo
	default:
		return database.SeverityMedium
	}
}

// NormalizeState maps a parser's native state token to {firing, resolved,
// unknown}. Explicit OK/RECOVERY tokens mean resolved, per §4.2.
func NormalizeState(token string) database.AlertState {
	t := strings.ToUpper(strings.TrimSpace(token))
	switch t {
	case "OK", "RECOVERY", "RESOLVED", "CLEAR", "CLEARED":
		return database.AlertStateResolved
	case "FIRING", "ALERTING", "TRIGGERED", "ACTIVE", "PROBLEM", "CRITICAL", "WARNING":
		return database.AlertStateFiring
	case "":
		return database.AlertStateUnknown
	default:
		return database.AlertStateUnknown
	}
}

// unionTags combines a rule's static tags with any key=value fragments
// found in the body, per §4.2 "Tags: union of configured static tags and
// any key=value fragments extracted from the body."
func unionTags(staticTags []string, body string) []string {
	seen := make(map[string]bool, len(staticTags))
	out := make([]string, 0, len(staticTags))
	for _, t := range staticTags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, m := range kvFragment.FindAllStringSubmatch(body, -1) {
		tag := m[1] + "=" + m[2]
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
