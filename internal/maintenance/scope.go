// Package maintenance implements window detection, scope matching, and
// suppression/downgrade/digest application described in §4.6.
package maintenance

import (
	"path"
	"regexp"
	"strings"

	"github.com/ngs-project/noisegate/internal/database"
)

// Target is the set of attributes a window's scope can match against —
// an AlertEvent or an Incident, whichever is being evaluated.
type Target struct {
	Host        string
	Service     string
	Environment string
	Region      string
	Tags        []string
}

// MatchResult records which selectors matched, for the MaintenanceMatch
// audit row's match_reason.
type MatchResult struct {
	Matched   bool
	Reasons   map[string][]string // selector key -> matched value(s)
}

// Matches evaluates a window's scope against a target, per §4.6: an
// empty scope matches nothing; selectors of different keys combine with
// AND; multiple values for the same key combine with OR; host/service
// support exact, glob, and an optional compiled regex alternative;
// environment/region/tag must match exactly.
func Matches(scope database.Scope, t Target) MatchResult {
	if len(scope) == 0 {
		return MatchResult{Matched: false}
	}

	reasons := make(map[string][]string)
	for _, sel := range scope {
		matched, matchedValues := matchSelector(sel, t)
		if !matched {
			return MatchResult{Matched: false}
		}
		reasons[sel.Key] = matchedValues
	}
	return MatchResult{Matched: true, Reasons: reasons}
}

func matchSelector(sel database.ScopeSelector, t Target) (bool, []string) {
	switch sel.Key {
	case "host":
		return matchHostOrService(sel, t.Host)
	case "service":
		return matchHostOrService(sel, t.Service)
	case "env":
		return matchExactAny(sel.Values, t.Environment)
	case "region":
		return matchExactAny(sel.Values, t.Region)
	case "tag":
		return matchTagAny(sel.Values, t.Tags)
	default:
		return false, nil
	}
}

func matchHostOrService(sel database.ScopeSelector, value string) (bool, []string) {
	if value == "" {
		return false, nil
	}
	if sel.Regex != "" {
		if re, err := regexp.Compile(sel.Regex); err == nil && re.MatchString(value) {
			return true, []string{value}
		}
	}
	for _, v := range sel.Values {
		if globMatch(v, value) {
			return true, []string{v}
		}
	}
	return false, nil
}

func matchExactAny(values []string, value string) (bool, []string) {
	if value == "" {
		return false, nil
	}
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return true, []string{v}
		}
	}
	return false, nil
}

func matchTagAny(selectorValues, tags []string) (bool, []string) {
	for _, sv := range selectorValues {
		for _, tag := range tags {
			if strings.EqualFold(sv, tag) {
				return true, []string{sv}
			}
		}
	}
	return false, nil
}

// globMatch supports * and ? glob wildcards via path.Match, which is
// exactly the wildcard set §4.6 names.
func globMatch(pattern, value string) bool {
	if pattern == value {
		return true
	}
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(value))
	return err == nil && ok
}
