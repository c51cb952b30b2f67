// Package fingerprint computes the two stable identities the correlator
// and parser rely on: the alert fingerprint (§4.3, "the same alert" across
// time and severity) and the format signature (§4.4, "the same email
// shape" used to cache LLM extraction rules).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	digitRun    = regexp.MustCompile(`\d+`)
	guidPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	isoTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?Z?`)
	isoDate      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	ipv4Pattern  = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
)

// Event is the minimal view of an AlertEvent the fingerprint function
// needs. It deliberately excludes severity and state per §4.3.
type Event struct {
	SourceTool          string
	Environment         string
	Host                string
	CheckName           string
	Service             string
	NormalizedSignature string
}

// Compute returns the v2 fingerprint: the lowercase hex SHA-256 of the
// input tuple, truncated to 32 characters. Severity escalation or any
// other transient field must never change this value.
func Compute(e Event) string {
	tuple := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(e.SourceTool)),
		strings.ToLower(strings.TrimSpace(e.Environment)),
		hostCanonical(e.Host),
		checkOrServiceCanonical(e.CheckName, e.Service),
		signaturePrefix(e.NormalizedSignature),
	}, "|")

	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:])[:32]
}

// hostCanonical lowercases the host, preserving any numeric suffix after
// the last '-' (so "web-01" and "web-1" stay distinguishable hosts, but
// the comparison is otherwise case-insensitive).
func hostCanonical(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	return h
}

// checkOrServiceCanonical returns the first non-empty of check/service,
// lowercased, with digit runs collapsed to a single '*' so that alerts
// differing only by an embedded counter or ticket number still agree.
func checkOrServiceCanonical(checkName, service string) string {
	v := checkName
	if strings.TrimSpace(v) == "" {
		v = service
	}
	v = strings.ToLower(strings.TrimSpace(v))
	return digitRun.ReplaceAllString(v, "*")
}

// signaturePrefix takes the first 80 characters of the normalized
// human-readable signature with digits, UUIDs, timestamps, and IP-like
// tokens replaced by stable placeholders.
func signaturePrefix(signature string) string {
	s := signature

	s = guidPattern.ReplaceAllString(s, "<guid>")
	s = isoTimestamp.ReplaceAllString(s, "<ts>")
	s = isoDate.ReplaceAllString(s, "<date>")
	s = ipv4Pattern.ReplaceAllString(s, "<ip>")
	s = digitRun.ReplaceAllString(s, "<n>")

	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
