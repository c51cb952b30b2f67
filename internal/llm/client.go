// Package llm implements the language-model fallback client described in
// §4.2 step 4 and §6: a schema-constrained extraction call used only
// after static rules and the pattern cache both miss, with a
// self-consistency check against the original text and a confidence
// gate before its proposed rules are trusted.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ngs-project/noisegate/internal/database"
	"github.com/ngs-project/noisegate/internal/errs"
	"github.com/ngs-project/noisegate/internal/redact"
)

// Proposal is the schema the LLM fallback is asked to return: the core
// extracted fields plus a set of proposed regexes it claims produced
// them, so the caller can self-consistency-check before trusting it.
type Proposal struct {
	Host       string            `json:"host"`
	CheckName  string            `json:"check_name"`
	Service    string            `json:"service"`
	Severity   string            `json:"severity"`
	State      string            `json:"state"`
	Confidence float64           `json:"confidence"`
	Rules      map[string]string `json:"proposed_extraction_rules"` // field name -> regex with one capture group
}

// Client calls a schema-constrained chat-completion endpoint, redacting
// PII/secrets from the excerpt before it is ever sent, per §4.2 step 4.
type Client struct {
	httpClient *http.Client
	redactor   *redact.Redactor
	limiter    *rate.Limiter
	logger     *zap.Logger

	endpoint         string
	model            string
	minConfidence    float64
	bodyExcerptBytes int
}

// Config carries the subset of internal/config's LLMConfig this client
// needs, kept separate so this package has no import-time dependency on
// the config package.
type Config struct {
	Endpoint         string
	Model            string
	MinConfidence    float64
	RequestTimeout   time.Duration
	RateLimitPerMin  int
	BodyExcerptBytes int
}

// New constructs a Client. logger may be nil, in which case a no-op
// logger is used.
func New(cfg Config, redactor *redact.Redactor, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		httpClient:       &http.Client{Timeout: cfg.RequestTimeout},
		redactor:         redactor,
		limiter:          rate.NewLimiter(limit, 1),
		logger:           logger.With(zap.String("component", "llm")),
		endpoint:         cfg.Endpoint,
		model:            cfg.Model,
		minConfidence:    cfg.MinConfidence,
		bodyExcerptBytes: cfg.BodyExcerptBytes,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const extractionPrompt = `Extract alert information from this monitoring email. Return ONLY valid JSON with these fields:
- host: affected host/server/IP (required, non-empty)
- check_name: the name of the specific check/monitor that fired, if distinct from the service
- service: affected service/application if mentioned
- severity: one of "critical", "high", "medium", "low", "info"
- state: one of "firing", "resolved", "unknown"
- confidence: your confidence in this extraction, 0.0 to 1.0
- proposed_extraction_rules: an object mapping "host_pattern", "check_name_pattern", "service_pattern", "severity_pattern", "state_pattern" to a Go RE2 regex with exactly one capture group that would extract that field from this exact text

Subject: %s

Body:
%s`

// Extract redacts subject and body, calls the LLM, and validates the
// response per §4.2 step 4: severity/state must be valid enum members,
// host must be non-empty, confidence must be in [0,1], every proposed
// regex must compile, and every proposed regex must actually reproduce
// the value the model claimed for that field when run against the
// original (unredacted) text — the self-consistency check.
func (c *Client) Extract(ctx context.Context, subject, body string) (*Proposal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Transient("llm.extract", err)
	}

	excerpt := truncateBytes(body, c.bodyExcerptBytes)
	redactedSubject, redactedBody := c.redactor.RedactSubjectAndBody(subject, excerpt)

	prompt := fmt.Sprintf(extractionPrompt, redactedSubject, redactedBody)
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   500,
		Temperature: 0.1,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errs.Data("llm.extract", fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Transient("llm.extract", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transient("llm.extract", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transient("llm.extract", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errs.Transient("llm.extract", fmt.Errorf("llm endpoint returned %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errs.Data("llm.extract", fmt.Errorf("decoding chat response: %w", err))
	}
	if parsed.Error != nil {
		return nil, errs.Transient("llm.extract", fmt.Errorf("llm error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return nil, errs.Data("llm.extract", fmt.Errorf("no choices in llm response"))
	}

	content := stripCodeFence(parsed.Choices[0].Message.Content)

	var prop Proposal
	if err := json.Unmarshal([]byte(content), &prop); err != nil {
		return nil, errs.Data("llm.extract", fmt.Errorf("decoding proposal JSON: %w", err))
	}

	if err := c.validate(&prop, subject, excerpt); err != nil {
		c.logger.Info("llm proposal failed validation", zap.Error(err))
		return nil, errs.Data("llm.extract", err)
	}

	return &prop, nil
}

func (c *Client) validate(p *Proposal, subject, body string) error {
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("host is empty")
	}
	if !validSeverity(p.Severity) {
		return fmt.Errorf("invalid severity %q", p.Severity)
	}
	if !validState(p.State) {
		return fmt.Errorf("invalid state %q", p.State)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]", p.Confidence)
	}

	text := subject + "\n" + body
	fieldValue := map[string]string{
		"host_pattern":       p.Host,
		"check_name_pattern": p.CheckName,
		"service_pattern":    p.Service,
		"severity_pattern":   p.Severity,
		"state_pattern":      p.State,
	}
	for field, claimedValue := range fieldValue {
		pattern, ok := p.Rules[field]
		if !ok || pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("proposed %s does not compile: %w", field, err)
		}
		m := re.FindStringSubmatch(text)
		if len(m) < 2 || !strings.EqualFold(m[1], claimedValue) {
			return fmt.Errorf("self-consistency check failed for %s: pattern does not reproduce claimed value %q", field, claimedValue)
		}
	}
	return nil
}

// MeetsConfidence reports whether a validated proposal clears the
// configured llm_min_confidence threshold (§4.2 step 4, default 0.60).
func (c *Client) MeetsConfidence(p *Proposal) bool {
	return p.Confidence >= c.minConfidence
}

func validSeverity(s string) bool {
	return database.Severity(strings.ToLower(s)).Valid()
}

func validState(s string) bool {
	return database.AlertState(strings.ToLower(s)).Valid()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// avoid cutting mid-rune: back up until the cut lands on a rune start
	for max > 0 && !isRuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
