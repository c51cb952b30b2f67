// Package redact strips PII and secrets from alert content before it is
// sent to the LLM client (§4.2 step 4). Not a named module in the core
// specification, but present in the system this spec was distilled from
// and squarely inside the parsing pipeline the spec requires.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// defaultPatternSpecs mirrors the original system's redaction rule set:
// emails, phone numbers, SSNs, card numbers, API keys/tokens, passwords,
// bearer/JWT tokens, AWS credentials, PEM private keys, and connection
// strings carrying an embedded password.
var defaultPatternSpecs = []struct {
	pattern     string
	replacement string
}{
	{`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, "[EMAIL]"},
	{`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`, "[PHONE]"},
	{`\b\d{3}-\d{2}-\d{4}\b`, "[SSN]"},
	{`\b4[0-9]{12}(?:[0-9]{3})?\b`, "[CARD]"},
	{`\b5[1-5][0-9]{14}\b`, "[CARD]"},
	{`\b3[47][0-9]{13}\b`, "[CARD]"},
	{`\b6(?:011|5[0-9]{2})[0-9]{12}\b`, "[CARD]"},
	{`(?i)(api[_-]?key|apikey)\s*[=:]\s*"?'?[a-zA-Z0-9_\-]{20,}"?'?`, "${1}=[REDACTED_KEY]"},
	{`(?i)(secret[_-]?key|secretkey)\s*[=:]\s*"?'?[a-zA-Z0-9_\-]{20,}"?'?`, "${1}=[REDACTED_SECRET]"},
	{`(?i)(access[_-]?token|accesstoken)\s*[=:]\s*"?'?[a-zA-Z0-9_\-.]{20,}"?'?`, "${1}=[REDACTED_TOKEN]"},
	{`(?i)(password|passwd|pwd)\s*[=:]\s*"?'?\S+"?'?`, "${1}=[REDACTED_PASSWORD]"},
	{`(?i)bearer\s+[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, "[REDACTED_JWT]"},
	{`(?i)(aws[_-]?access[_-]?key[_-]?id)\s*[=:]\s*"?'?[A-Z0-9]{20}"?'?`, "${1}=[REDACTED_AWS_KEY]"},
	{`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[=:]\s*"?'?[a-zA-Z0-9/+=]{40}"?'?`, "${1}=[REDACTED_AWS_SECRET]"},
	{`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA )?PRIVATE KEY-----`, "[REDACTED_PRIVATE_KEY]"},
	{`(?i)(mysql|postgresql|postgres|mongodb|redis|amqp)://[^:]+:[^@]+@`, "${1}://[user]:[REDACTED_PASSWORD]@"},
	{`(?i)(secret|token|credential|auth)\s*[=:]\s*"?'?[a-zA-Z0-9_\-.]{16,}"?'?`, "${1}=[REDACTED]"},
}

// Redactor applies an ordered set of regex rules to strip sensitive
// content. The zero value is not usable; construct with New.
type Redactor struct {
	rules []rule
}

// New builds a Redactor with the default pattern set plus any extra rules
// supplied (format mirrors the original's REDACTION_PATTERNS env var:
// pattern/replacement pairs), skipping any that fail to compile and
// reporting them via the returned error so callers can log at startup.
func New(extra map[string]string) (*Redactor, error) {
	r := &Redactor{}
	var failures []string

	for _, spec := range defaultPatternSpecs {
		compiled, err := regexp.Compile(spec.pattern)
		if err != nil {
			failures = append(failures, spec.pattern)
			continue
		}
		r.rules = append(r.rules, rule{pattern: compiled, replacement: spec.replacement})
	}

	for pattern, replacement := range extra {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			failures = append(failures, pattern)
			continue
		}
		r.rules = append(r.rules, rule{pattern: compiled, replacement: replacement})
	}

	if len(failures) > 0 {
		return r, fmt.Errorf("redact: %d pattern(s) failed to compile: %s", len(failures), strings.Join(failures, ", "))
	}
	return r, nil
}

// Redact applies every rule in order and returns the scrubbed text.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	result := text
	for _, ru := range r.rules {
		result = ru.pattern.ReplaceAllString(result, ru.replacement)
	}
	return result
}

// RedactWithCounts applies every rule and reports, per replacement marker,
// how many matches were substituted. The LLM client redacts through
// RedactSubjectAndBody, which does not report counts, so no
// PatternExtractionLog row records these.
func (r *Redactor) RedactWithCounts(text string) (string, map[string]int) {
	if text == "" {
		return text, nil
	}
	counts := make(map[string]int)
	result := text
	for _, ru := range r.rules {
		matches := ru.pattern.FindAllString(result, -1)
		if len(matches) == 0 {
			continue
		}
		key := strings.ToLower(strings.Trim(ru.replacement, "[]${}_1234567890="))
		if key == "" {
			key = "redacted"
		}
		counts[key] += len(matches)
		result = ru.pattern.ReplaceAllString(result, ru.replacement)
	}
	return result, counts
}

// RedactSubjectAndBody redacts both fields of an email in one call.
func (r *Redactor) RedactSubjectAndBody(subject, body string) (string, string) {
	return r.Redact(subject), r.Redact(body)
}
