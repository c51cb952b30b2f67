// Package errs implements the four-way error taxonomy that every worker
// task in NGS classifies its failures into (§7): Transient, Data,
// Configuration, and Invariant. The scheduler layer — not the task
// itself — decides retry-vs-DLQ-vs-quarantine based on this
// classification, so handlers only need to wrap and classify, never
// decide.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which of the four taxonomy buckets an error falls into.
type Kind string

const (
	// KindTransient covers network errors, temporary DB errors, and
	// provider throttling. Retried with backoff; routed to the DLQ on
	// exhaustion.
	KindTransient Kind = "transient"

	// KindData covers malformed mail, schema validation failures, and
	// regex compile failures on LLM output. Never retried; results in a
	// QuarantineEvent or a RawEmail marked parse_status=failed.
	KindData Kind = "data"

	// KindConfiguration covers invalid parser rules or unknown severities
	// in a mapping. Fails fast at load time; the previous active config
	// stays active.
	KindConfiguration Kind = "configuration"

	// KindInvariant covers unique index collisions and negative counters.
	// The enclosing transaction is aborted and the original payload is
	// routed to the DLQ.
	KindInvariant Kind = "invariant"
)

// Error wraps an underlying cause with a taxonomy Kind so the scheduler
// can decide retry-vs-DLQ-vs-quarantine without inspecting driver-specific
// error types itself.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "parser.extract", "correlator.apply"
	Err     error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable error.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Data wraps err as a non-retryable data error (quarantine/parse_error path).
func Data(op string, err error) *Error {
	return &Error{Kind: KindData, Op: op, Err: err}
}

// Configuration wraps err as a fail-fast configuration error.
func Configuration(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Invariant wraps err as an invariant violation (transaction abort, DLQ route).
func Invariant(op string, err error) *Error {
	return &Error{Kind: KindInvariant, Op: op, Err: err}
}

// WithContext attaches structured context (e.g. raw_email_id, fingerprint)
// to an Error for logging, returning a copy so callers can reuse a base
// error across multiple contexts.
func (e *Error) WithContext(kv map[string]interface{}) *Error {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+len(kv))
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	for k, v := range kv {
		cp.Context[k] = v
	}
	return &cp
}

// KindOf returns the taxonomy Kind of err, or "" if err was never wrapped
// with this package. Unwraps through fmt.Errorf("%w", ...) chains.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsData reports whether err should route to quarantine/parse_error without retry.
func IsData(err error) bool { return KindOf(err) == KindData }

// IsConfiguration reports whether err should fail config load fast,
// leaving the previous active config in place.
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsInvariant reports whether err should abort the enclosing transaction
// and route the original payload to the DLQ.
func IsInvariant(err error) bool { return KindOf(err) == KindInvariant }
