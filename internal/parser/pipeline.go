package parser

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
	"github.com/ngs-project/noisegate/internal/fingerprint"
	"github.com/ngs-project/noisegate/internal/llm"
)

// Extractor is the subset of *llm.Client the pipeline depends on,
// declared locally so tests can substitute a fake without importing the
// llm package's HTTP machinery.
type Extractor interface {
	Extract(ctx context.Context, subject, body string) (*llm.Proposal, error)
	MeetsConfidence(p *llm.Proposal) bool
}

// Pipeline runs the five-step parser described in §4.2 against one
// RawEmail at a time.
type Pipeline struct {
	DB               *gorm.DB
	Rules            *RuleSet
	LLM              Extractor
	CacheMinSuccess  float64 // default 70, §4.2 step 3
	SourceTool       string  // the monitoring tool this ingest path is associated with, e.g. "email"
}

// Result summarizes what the pipeline did with one RawEmail, for callers
// that want to log or test without re-querying the database.
type Result struct {
	Outcome       string // "parsed" | "quarantined"
	AlertEventID  uint
	ExtractionType database.ExtractionType
}

// Process runs RawEmail re through the pipeline inside a single
// transaction, grounded in the teacher's db.Transaction(func(tx
// *gorm.DB) error {...}) idiom (internal/jobs/recorrelation.go).
func (p *Pipeline) Process(ctx context.Context, re *database.RawEmail) (*Result, error) {
	sigHash, bodyMarkers := fingerprint.Signature(fingerprint.FormatInput{
		FromDomain: domainOf(re.FromAddress),
		Subject:    re.Subject,
		Body:       re.BodyText,
	})

	var result *Result
	err := p.DB.Transaction(func(tx *gorm.DB) error {
		r, err := p.processInTx(ctx, tx, re, sigHash, bodyMarkers)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) processInTx(ctx context.Context, tx *gorm.DB, re *database.RawEmail, sigHash string, bodyMarkers []string) (*Result, error) {
	fromDomain := domainOf(re.FromAddress)

	// Step 2: static rule lookup.
	if rule := p.Rules.Find(re.Subject, fromDomain); rule != nil {
		if fields, ok := ApplyRule(rule, re.Subject, re.BodyText); ok {
			return p.commitParsed(tx, re, fields, sigHash, database.ExtractionTypeRule, nil)
		}
	}

	// Step 3: pattern cache lookup.
	cached, err := Lookup(tx, sigHash, p.CacheMinSuccess)
	if err == nil {
		cr, decodeErr := DecodeCachedRule(cached.ExtractionRules)
		if decodeErr == nil {
			if fields, ok, applyErr := ApplyCachedRule(cr, re.Subject, re.BodyText); applyErr == nil && ok {
				cached.RecordSuccess(time.Now())
				if saveErr := tx.Save(cached).Error; saveErr != nil {
					return nil, errs.Invariant("parser.cache_update", saveErr)
				}
				return p.commitParsed(tx, re, fields, sigHash, database.ExtractionTypeCached, cached)
			}
		}
		cached.RecordFailure()
		_ = tx.Save(cached).Error
	} else if !IsCacheNotUsable(err) && err != gorm.ErrRecordNotFound {
		return nil, errs.Transient("parser.cache_lookup", err)
	}

	// Step 4: LLM fallback.
	if p.LLM != nil {
		prop, llmErr := p.LLM.Extract(ctx, re.Subject, re.BodyText)
		if llmErr == nil && p.LLM.MeetsConfidence(prop) {
			fields := Fields{
				Host:       NormalizeHost(prop.Host),
				CheckName:  strings.TrimSpace(prop.CheckName),
				Service:    prop.Service,
				Severity:   database.Severity(prop.Severity),
				State:      database.AlertState(prop.State),
				Tags:       unionTags(nil, re.BodyText),
				Confidence: prop.Confidence,
			}
			newCache, cacheErr := p.learnFromProposal(tx, sigHash, bodyMarkers, fromDomain, prop, re.ID)
			if cacheErr != nil {
				return nil, cacheErr
			}
			return p.commitParsed(tx, re, fields, sigHash, database.ExtractionTypeLearnedNew, newCache)
		}
		if llmErr != nil && !errs.IsData(llmErr) && !errs.IsTransient(llmErr) {
			return nil, llmErr
		}
		// validation failure or below-confidence: fall through to quarantine.
		reason := "llm confidence below threshold or validation failed"
		if llmErr != nil {
			reason = llmErr.Error()
		}
		return p.commitQuarantine(tx, re, sigHash, prop, reason)
	}

	// No LLM configured: quarantine directly.
	return p.commitQuarantine(tx, re, sigHash, nil, "no rule or cache match and no LLM client configured")
}

func (p *Pipeline) commitParsed(tx *gorm.DB, re *database.RawEmail, f Fields, sigHash string, extractionType database.ExtractionType, cache *database.PatternCache) (*Result, error) {
	event := &database.AlertEvent{
		UUID:        uuid.NewString(),
		RawEmailID:  &re.ID,
		SourceTool:  p.SourceTool,
		Host:        f.Host,
		CheckName:   f.CheckName,
		Service:     f.Service,
		Severity:    f.Severity,
		State:       f.State,
		OccurredAt:  eventTimeOf(re),
		NormalizedSignature: re.Subject,
		FingerprintV2: fingerprint.Compute(fingerprint.Event{
			SourceTool:          p.SourceTool,
			Host:                f.Host,
			CheckName:           f.CheckName,
			Service:             f.Service,
			NormalizedSignature: re.Subject + "\n" + re.BodyText,
		}),
		Tags: database.StringSlice(f.Tags),
	}
	if err := tx.Create(event).Error; err != nil {
		return nil, errs.Invariant("parser.create_alert_event", err)
	}

	re.ParseStatus = database.RawEmailParsed
	if err := tx.Model(re).Update("parse_status", database.RawEmailParsed).Error; err != nil {
		return nil, errs.Invariant("parser.update_raw_email", err)
	}

	log := &database.PatternExtractionLog{
		RawEmailID:     re.ID,
		SignatureHash:  sigHash,
		ExtractionType: extractionType,
		Confidence:     f.Confidence,
		Success:        true,
	}
	if err := tx.Create(log).Error; err != nil {
		return nil, errs.Invariant("parser.create_extraction_log", err)
	}

	return &Result{Outcome: "parsed", AlertEventID: event.ID, ExtractionType: extractionType}, nil
}

func (p *Pipeline) commitQuarantine(tx *gorm.DB, re *database.RawEmail, sigHash string, prop *llm.Proposal, reason string) (*Result, error) {
	var candidate database.JSONB
	confidence := 0.0
	if prop != nil {
		confidence = prop.Confidence
		candidate = database.JSONB{
			"host":       prop.Host,
			"check_name": prop.CheckName,
			"service":    prop.Service,
			"severity":   prop.Severity,
			"state":      prop.State,
		}
	}

	q := &database.QuarantineEvent{
		UUID:                uuid.NewString(),
		RawEmailID:          re.ID,
		CandidateExtraction: candidate,
		Confidence:          confidence,
		Reason:              reason,
		ReviewOutcome:       database.ReviewPending,
	}
	if err := tx.Create(q).Error; err != nil {
		return nil, errs.Invariant("parser.create_quarantine_event", err)
	}

	if err := tx.Model(re).Updates(map[string]interface{}{
		"parse_status": database.RawEmailQuarantined,
		"parse_error":  reason,
	}).Error; err != nil {
		return nil, errs.Invariant("parser.update_raw_email", err)
	}

	log := &database.PatternExtractionLog{
		RawEmailID:     re.ID,
		SignatureHash:  sigHash,
		ExtractionType: database.ExtractionTypeLLMFallback,
		Confidence:     confidence,
		Success:        false,
		Details:        database.JSONB{"reason": reason},
	}
	if err := tx.Create(log).Error; err != nil {
		return nil, errs.Invariant("parser.create_extraction_log", err)
	}

	return &Result{Outcome: "quarantined"}, nil
}

// learnFromProposal inserts a new PatternCache row for a validated,
// sufficiently-confident LLM proposal, per §4.2 step 4: match_count = 1,
// success_rate = 100, is_approved = false.
func (p *Pipeline) learnFromProposal(tx *gorm.DB, sigHash string, bodyMarkers []string, fromDomain string, prop *llm.Proposal, rawEmailID uint) (*database.PatternCache, error) {
	cr := CachedRule{
		HostPattern:      prop.Rules["host_pattern"],
		CheckNamePattern: prop.Rules["check_name_pattern"],
		ServicePattern:   prop.Rules["service_pattern"],
		SeverityPattern:  prop.Rules["severity_pattern"],
		StatePattern:     prop.Rules["state_pattern"],
	}
	rules, err := EncodeCachedRule(cr)
	if err != nil {
		return nil, errs.Data("parser.encode_learned_rule", err)
	}

	id := rawEmailID
	pc := &database.PatternCache{
		SignatureHash:      sigHash,
		FromDomain:         fromDomain,
		BodyMarkers:        database.StringSlice(bodyMarkers),
		ExtractionRules:    rules,
		MatchCount:         1,
		SuccessRate:        100,
		IsApproved:         false,
		CreatedFromEmailID: &id,
	}
	if err := tx.Create(pc).Error; err != nil {
		return nil, errs.Invariant("parser.create_pattern_cache", err)
	}
	return pc, nil
}

func eventTimeOf(re *database.RawEmail) time.Time {
	if re.DateHeader != nil {
		return *re.DateHeader
	}
	return re.ReceivedAt
}

func domainOf(address string) string {
	at := -1
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return ""
	}
	return address[at+1:]
}

