package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// bodyMarkerVocabulary is the fixed vocabulary of tokens the format
// signature looks for in the body (§4.4).
var bodyMarkerVocabulary = []string{
	"severity", "host:", "critical", "resolved", "check", "service",
	"environment:", "region:", "state:", "recovery", "warning", "firing",
}

// FormatInput is the minimal view of a RawEmail needed to compute its
// format signature.
type FormatInput struct {
	FromDomain string
	Subject    string
	Body       string
}

// Signature returns the 64-hex SHA-256 format-signature hash used to key
// the pattern cache, along with the body markers found (useful for storing
// alongside a new PatternCache row).
func Signature(in FormatInput) (hash string, markers []string) {
	markers = bodyMarkers(in.Body)
	tuple := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(in.FromDomain)),
		normalizeSubjectPrefix(in.Subject),
		strings.Join(markers, ","),
	}, "|")

	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:]), markers
}

// normalizeSubjectPrefix normalizes the subject for shape comparison:
// digit runs become *N*, ISO-like date tokens become *DATE*.
func normalizeSubjectPrefix(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	s = isoDate.ReplaceAllString(s, "*DATE*")
	s = digitRun.ReplaceAllString(s, "*N*")
	const maxPrefix = 120
	if len(s) > maxPrefix {
		s = s[:maxPrefix]
	}
	return s
}

// bodyMarkers returns the sorted subset of bodyMarkerVocabulary present in
// body, case-insensitively.
func bodyMarkers(body string) []string {
	lower := strings.ToLower(body)
	var found []string
	for _, marker := range bodyMarkerVocabulary {
		if strings.Contains(lower, marker) {
			found = append(found, marker)
		}
	}
	sort.Strings(found)
	return found
}
