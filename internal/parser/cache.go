package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ngs-project/noisegate/internal/database"
	"gorm.io/gorm"
)

var errCacheNotUsable = errors.New("parser: pattern cache entry below success threshold")

// CachedRule is the shape persisted in PatternCache.ExtractionRules —
// the same field set a Rule declares, but stored as data rather than
// compiled into the binary, since it may have been learned from an LLM
// proposal (§4.2 step 4).
type CachedRule struct {
	HostPattern      string            `json:"host_pattern"`
	CheckNamePattern string            `json:"check_name_pattern"`
	ServicePattern   string            `json:"service_pattern"`
	SeverityPattern  string            `json:"severity_pattern"`
	StatePattern     string            `json:"state_pattern"`
	SeverityMap      map[string]string `json:"severity_map"`
	StaticTags       []string          `json:"static_tags"`
}

// EncodeCachedRule marshals a CachedRule into the JSONB column shape
// PatternCache.ExtractionRules expects.
func EncodeCachedRule(cr CachedRule) (database.JSONB, error) {
	b, err := json.Marshal(cr)
	if err != nil {
		return nil, err
	}
	var out database.JSONB
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeCachedRule unmarshals PatternCache.ExtractionRules back into a
// CachedRule.
func DecodeCachedRule(rules database.JSONB) (CachedRule, error) {
	var cr CachedRule
	b, err := json.Marshal(rules)
	if err != nil {
		return cr, err
	}
	if err := json.Unmarshal(b, &cr); err != nil {
		return cr, err
	}
	return cr, nil
}

// ApplyCachedRule compiles and runs a CachedRule against subject+body,
// mirroring ApplyRule but sourced from a PatternCache row instead of the
// static configuration file.
func ApplyCachedRule(cr CachedRule, subject, body string) (Fields, bool, error) {
	text := subject + "\n" + body

	hostRe, err := compileIfSet(cr.HostPattern)
	if err != nil {
		return Fields{}, false, fmt.Errorf("parser: cached host_pattern: %w", err)
	}
	checkNameRe, err := compileIfSet(cr.CheckNamePattern)
	if err != nil {
		return Fields{}, false, fmt.Errorf("parser: cached check_name_pattern: %w", err)
	}
	serviceRe, err := compileIfSet(cr.ServicePattern)
	if err != nil {
		return Fields{}, false, fmt.Errorf("parser: cached service_pattern: %w", err)
	}
	severityRe, err := compileIfSet(cr.SeverityPattern)
	if err != nil {
		return Fields{}, false, fmt.Errorf("parser: cached severity_pattern: %w", err)
	}
	stateRe, err := compileIfSet(cr.StatePattern)
	if err != nil {
		return Fields{}, false, fmt.Errorf("parser: cached state_pattern: %w", err)
	}

	host := firstSubmatch(hostRe, text)
	if host == "" {
		return Fields{}, false, nil
	}

	f := Fields{
		Host:       NormalizeHost(host),
		CheckName:  strings.TrimSpace(firstSubmatch(checkNameRe, text)),
		Service:    firstSubmatch(serviceRe, text),
		Severity:   NormalizeSeverity(firstSubmatch(severityRe, text), cr.SeverityMap),
		State:      NormalizeState(firstSubmatch(stateRe, text)),
		Tags:       unionTags(cr.StaticTags, body),
		Confidence: 1.0,
	}
	return f, true, nil
}

func compileIfSet(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

// Lookup fetches a usable PatternCache row for a signature hash: present,
// and success_rate at least minSuccessPercent per §4.2 step 3.
func Lookup(db *gorm.DB, signatureHash string, minSuccessPercent float64) (*database.PatternCache, error) {
	var pc database.PatternCache
	if err := db.Where("signature_hash = ?", signatureHash).First(&pc).Error; err != nil {
		return nil, err
	}
	if !pc.Usable(minSuccessPercent) {
		return nil, errCacheNotUsable
	}
	return &pc, nil
}

// IsCacheNotUsable reports whether err is the sentinel returned by Lookup
// when a cache row exists but has decayed below the success threshold.
func IsCacheNotUsable(err error) bool {
	return errors.Is(err, errCacheNotUsable)
}
