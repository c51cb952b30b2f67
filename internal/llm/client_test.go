package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ngs-project/noisegate/internal/redact"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	redactor, err := redact.New(nil)
	if err != nil {
		t.Fatalf("unexpected redactor error: %v", err)
	}
	c := New(Config{
		Endpoint:         srv.URL,
		Model:            "test-model",
		MinConfidence:    0.60,
		RequestTimeout:   2 * time.Second,
		RateLimitPerMin:  6000,
		BodyExcerptBytes: 8192,
	}, redactor, nil)
	return c, srv
}

func chatResponseWith(content string) chatResponse {
	return chatResponse{Choices: []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}{
		{Message: struct {
			Content string `json:"content"`
		}{Content: content}},
	}}
}

func TestExtract_ValidProposalPassesValidation(t *testing.T) {
	proposal := `{"host":"web-01","service":"http","severity":"critical","state":"firing","confidence":0.9,"proposed_extraction_rules":{"host_pattern":"Host: (web-01)"}}`
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponseWith(proposal)
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	p, err := c.Extract(context.Background(), "Alert", "Host: web-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Host != "web-01" {
		t.Errorf("expected host web-01, got %q", p.Host)
	}
	if !c.MeetsConfidence(p) {
		t.Errorf("expected confidence to clear threshold")
	}
}

func TestExtract_SelfConsistencyFailureRejected(t *testing.T) {
	proposal := `{"host":"web-01","severity":"critical","state":"firing","confidence":0.9,"proposed_extraction_rules":{"host_pattern":"Host: (web-99)"}}`
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponseWith(proposal))
	})
	defer srv.Close()

	_, err := c.Extract(context.Background(), "Alert", "Host: web-01")
	if err == nil {
		t.Fatal("expected self-consistency check to reject a pattern reproducing a different host")
	}
}

func TestExtract_InvalidSeverityRejected(t *testing.T) {
	proposal := `{"host":"web-01","severity":"catastrophic","state":"firing","confidence":0.9}`
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponseWith(proposal))
	})
	defer srv.Close()

	_, err := c.Extract(context.Background(), "Alert", "body")
	if err == nil {
		t.Fatal("expected invalid severity to be rejected")
	}
}

func TestExtract_EmptyHostRejected(t *testing.T) {
	proposal := `{"host":"","severity":"critical","state":"firing","confidence":0.9}`
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponseWith(proposal))
	})
	defer srv.Close()

	_, err := c.Extract(context.Background(), "Alert", "body")
	if err == nil {
		t.Fatal("expected empty host to be rejected")
	}
}

func TestExtract_ServerErrorIsTransient(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := c.Extract(context.Background(), "Alert", "body")
	if err == nil {
		t.Fatal("expected error on server failure")
	}
}

func TestMeetsConfidence_BelowThresholdFails(t *testing.T) {
	redactor, _ := redact.New(nil)
	c := New(Config{MinConfidence: 0.60}, redactor, nil)
	if c.MeetsConfidence(&Proposal{Confidence: 0.5}) {
		t.Error("expected confidence below threshold to fail")
	}
}

func TestTruncateBytes_DoesNotSplitMultibyteRune(t *testing.T) {
	s := "abc\xE2\x9C\x93def" // contains a multi-byte check-mark rune
	got := truncateBytes(s, 4)
	if !utf8.ValidString(got) {
		t.Errorf("expected truncation on a rune boundary, got %q", got)
	}
	if len(got) > 4 {
		t.Errorf("expected truncated length <= 4, got %d", len(got))
	}
}
