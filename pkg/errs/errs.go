// Package errs defines the behavioral error categories used throughout
// dexchaind's deterministic core: structural, authorization, business-rule,
// hardfork-gated, and internal-defensive failures. Callers that need to
// decide how far to unwind (trx session vs. whole block) switch on Kind via
// errors.As, rather than on string matching or concrete types.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the pipeline must react to it.
type Kind int

const (
	// KindStructural covers malformed operations caught by validate():
	// never mutates state, fatal to the transaction only.
	KindStructural Kind = iota
	// KindAuthorization covers missing signatures, unsatisfied authority,
	// and whitelist/blacklist rejections.
	KindAuthorization
	// KindBusinessRule covers insufficient balance, invalid order
	// parameters, and similar evaluator-level rejections.
	KindBusinessRule
	// KindHardforkGated covers operations not yet activated at the
	// current chain time.
	KindHardforkGated
	// KindInternal covers post-apply invariant failures. A KindInternal
	// error means the block application itself must fail.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindAuthorization:
		return "authorization"
	case KindBusinessRule:
		return "business_rule"
	case KindHardforkGated:
		return "hardfork_gated"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by Wrap. It carries the
// behavioral Kind plus whatever diagnostic context the caller attached.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Context, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches a Kind and context message to err. Returns nil if err is
// nil, matching the teacher's Wrap(err, message) convention.
func Wrap(kind Kind, err error, context string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Context: context, Err: err}
}

// New builds a Kind-tagged error from a message, with no wrapped cause.
func New(kind Kind, context string) error {
	return &Error{Kind: kind, Context: context}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that were never classified — an unclassified error during block
// application is treated as a bug, never silently swallowed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
