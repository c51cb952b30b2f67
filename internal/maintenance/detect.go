package maintenance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ngs-project/noisegate/internal/database"
)

// HasMaintenancePrefix reports whether subject carries one of the
// configured maintenance prefixes (e.g. "[MW]", "Maintenance:"), per
// §4.2 step 6's "independently, if the subject matches any configured
// maintenance prefix" check. Cheap enough to run on every ingested
// message regardless of which folder it arrived in.
func HasMaintenancePrefix(subjectPrefixes []string, subject string) bool {
	trimmed := strings.TrimSpace(subject)
	for _, prefix := range subjectPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// DetectFromBody recognizes the structured body form documented in §4.6
// and returns a candidate MaintenanceWindow. ok is false when subject
// does not carry one of the configured maintenance prefixes.
func DetectFromBody(subjectPrefixes []string, subject, body string) (*database.MaintenanceWindow, bool, error) {
	if !HasMaintenancePrefix(subjectPrefixes, subject) {
		return nil, false, nil
	}

	fields := parseFieldLines(body)

	w := &database.MaintenanceWindow{
		UUID:         uuid.NewString(),
		Source:       database.MaintenanceSourceEmail,
		Title:        fields["title"],
		Timezone:     orDefault(fields["timezone"], "UTC"),
		SuppressMode: parseSuppressMode(fields["mode"]),
		IsActive:     true,
	}

	start, err := parseTimestamp(fields["start"], w.Timezone)
	if err != nil {
		return nil, false, fmt.Errorf("maintenance: parsing Start: %w", err)
	}
	end, err := parseTimestamp(fields["end"], w.Timezone)
	if err != nil {
		return nil, false, fmt.Errorf("maintenance: parsing End: %w", err)
	}
	w.StartAt = start
	w.EndAt = end

	scope, err := ParseScopeSelectors(fields["scope"])
	if err != nil {
		return nil, false, fmt.Errorf("maintenance: parsing Scope: %w", err)
	}
	w.SetScope(scope)

	return w, true, nil
}

// ParseScopeSelectors parses a selector list like
// "host=web-*,env=prod env=staging service=billing" into a Scope.
// Selectors separated by whitespace or commas; repeated keys accumulate
// OR'd values under the same selector.
func ParseScopeSelectors(raw string) (database.Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	byKey := make(map[string]*database.ScopeSelector)
	var order []string

	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		eq := strings.Index(f, "=")
		if eq < 0 {
			return nil, fmt.Errorf("selector %q missing '='", f)
		}
		key := strings.ToLower(strings.TrimSpace(f[:eq]))
		value := strings.TrimSpace(f[eq+1:])
		if value == "" {
			continue
		}
		sel, ok := byKey[key]
		if !ok {
			sel = &database.ScopeSelector{Key: key}
			byKey[key] = sel
			order = append(order, key)
		}
		sel.Values = append(sel.Values, value)
	}

	scope := make(database.Scope, 0, len(order))
	for _, k := range order {
		scope = append(scope, *byKey[k])
	}
	return scope, nil
}

func parseFieldLines(body string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		colon := strings.Index(line, ":")
		if colon <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		switch key {
		case "title", "scope", "mode", "start", "end", "timezone":
			out[key] = value
		}
	}
	return out
}

func parseSuppressMode(token string) database.SuppressMode {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "downgrade":
		return database.SuppressModeDowngrade
	case "digest":
		return database.SuppressModeDigest
	default:
		return database.SuppressModeMute
	}
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func parseTimestamp(raw, tz string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
