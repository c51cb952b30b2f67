// Package parser implements the parser pipeline described in §4.2:
// static rule lookup, pattern-cache lookup, LLM fallback, and
// quarantine. Maintenance detection is not part of this package; the
// ingester routes maintenance messages to internal/maintenance instead.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one static, regex-based parser, keyed by subject prefix and
// from-domain, the way the teacher's alert adapters are keyed by source
// type and field mappings — except NGS rules match against free-form
// email text instead of a structured webhook payload.
type Rule struct {
	Name            string            `yaml:"name"`
	SubjectPrefix   string            `yaml:"subject_prefix"`
	FromDomain      string            `yaml:"from_domain"`
	HostPattern     string            `yaml:"host_pattern"`
	CheckNamePattern string           `yaml:"check_name_pattern"`
	ServicePattern  string            `yaml:"service_pattern"`
	SeverityPattern string            `yaml:"severity_pattern"`
	StatePattern    string            `yaml:"state_pattern"`
	SeverityMap     map[string]string `yaml:"severity_map"`
	StateMap        map[string]string `yaml:"state_map"`
	StaticTags      []string          `yaml:"static_tags"`

	hostRe, checkNameRe, serviceRe, severityRe, stateRe *regexp.Regexp
}

// RuleSet is the ordered, compiled collection of static rules loaded
// from the parsers configuration file.
type RuleSet struct {
	Rules []*Rule
}

// LoadRules decodes a YAML rule file into a compiled RuleSet, matching
// §6's "parsers — ordered list of rule-based parsers" configuration
// surface.
func LoadRules(data []byte) (*RuleSet, error) {
	var raw struct {
		Rules []*Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parser: decoding rule file: %w", err)
	}

	rs := &RuleSet{}
	for _, r := range raw.Rules {
		if err := r.compile(); err != nil {
			return nil, fmt.Errorf("parser: rule %q: %w", r.Name, err)
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

func (r *Rule) compile() error {
	var err error
	if r.HostPattern != "" {
		if r.hostRe, err = regexp.Compile(r.HostPattern); err != nil {
			return fmt.Errorf("host_pattern: %w", err)
		}
	}
	if r.CheckNamePattern != "" {
		if r.checkNameRe, err = regexp.Compile(r.CheckNamePattern); err != nil {
			return fmt.Errorf("check_name_pattern: %w", err)
		}
	}
	if r.ServicePattern != "" {
		if r.serviceRe, err = regexp.Compile(r.ServicePattern); err != nil {
			return fmt.Errorf("service_pattern: %w", err)
		}
	}
	if r.SeverityPattern != "" {
		if r.severityRe, err = regexp.Compile(r.SeverityPattern); err != nil {
			return fmt.Errorf("severity_pattern: %w", err)
		}
	}
	if r.StatePattern != "" {
		if r.stateRe, err = regexp.Compile(r.StatePattern); err != nil {
			return fmt.Errorf("state_pattern: %w", err)
		}
	}
	return nil
}

// Matches reports whether this rule applies to an email with the given
// subject and sender domain.
func (r *Rule) Matches(subject, fromDomain string) bool {
	if r.SubjectPrefix != "" && !strings.HasPrefix(strings.TrimSpace(subject), r.SubjectPrefix) {
		return false
	}
	if r.FromDomain != "" && !strings.EqualFold(r.FromDomain, fromDomain) {
		return false
	}
	return r.SubjectPrefix != "" || r.FromDomain != ""
}

// Find returns the first rule in the set matching subject/fromDomain, or
// nil if none do.
func (rs *RuleSet) Find(subject, fromDomain string) *Rule {
	for _, r := range rs.Rules {
		if r.Matches(subject, fromDomain) {
			return r
		}
	}
	return nil
}

func firstSubmatch(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
