package database

import "time"

// PatternCache is a learned extraction rule set keyed by format-signature
// hash, consulted by the parser before falling back to the LLM.
type PatternCache struct {
	ID uint `gorm:"primaryKey" json:"id"`

	SignatureHash string `gorm:"size:64;uniqueIndex;not null" json:"signature_hash"`

	FromDomain    string      `gorm:"size:255" json:"from_domain"`
	SubjectPrefix string      `gorm:"type:text" json:"subject_prefix"`
	BodyMarkers   StringSlice `gorm:"type:jsonb" json:"body_markers"`
	SourceName    string      `gorm:"size:128" json:"source_name"`

	// ExtractionRules maps field name -> {source, regex, group, map, keywords}.
	ExtractionRules JSONB `gorm:"type:jsonb" json:"extraction_rules"`

	MatchCount   int     `gorm:"not null;default:0" json:"match_count"`
	SuccessRate  float64 `gorm:"not null;default:100" json:"success_rate"`
	IsApproved   bool    `gorm:"default:false" json:"is_approved"`

	CreatedFromEmailID *uint `json:"created_from_email_id,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	LastMatchedAt  *time.Time `json:"last_matched_at,omitempty"`
}

func (PatternCache) TableName() string {
	return "pattern_cache"
}

// patternCacheDecayWeight is the exponentially weighted average weight
// applied per failed sample when decaying SuccessRate (§4.2).
const patternCacheDecayWeight = 0.05

// RecordSuccess increments MatchCount and nudges SuccessRate toward 100.
func (p *PatternCache) RecordSuccess(at time.Time) {
	p.MatchCount++
	p.SuccessRate = p.SuccessRate*(1-patternCacheDecayWeight) + 100*patternCacheDecayWeight
	if p.SuccessRate > 100 {
		p.SuccessRate = 100
	}
	p.LastMatchedAt = &at
}

// RecordFailure decays SuccessRate toward 0 using the same weighted average.
func (p *PatternCache) RecordFailure() {
	p.SuccessRate = p.SuccessRate * (1 - patternCacheDecayWeight)
	if p.SuccessRate < 0 {
		p.SuccessRate = 0
	}
}

// Usable reports whether the cached rules meet the configured minimum
// success rate to be applied without LLM consultation.
func (p *PatternCache) Usable(minSuccessPercent float64) bool {
	return p.SuccessRate >= minSuccessPercent
}

// PatternExtractionLog is an audit record of one cache or LLM use.
type PatternExtractionLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	RawEmailID    uint           `gorm:"not null;index" json:"raw_email_id"`
	SignatureHash string         `gorm:"size:64;index" json:"signature_hash"`
	ExtractionType ExtractionType `gorm:"type:varchar(32);not null" json:"extraction_type"`

	Confidence float64 `json:"confidence"`
	Success    bool    `json:"success"`
	Details    JSONB   `gorm:"type:jsonb" json:"details"`

	CreatedAt time.Time `json:"created_at"`
}

func (PatternExtractionLog) TableName() string {
	return "pattern_extraction_logs"
}
