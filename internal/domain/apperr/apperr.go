// Package apperr defines the error taxonomy shared by the checkout, coupon,
// loyalty, order and payment domains.
//
// Every domain sentinel is an *Error carrying a Kind and a stable Reason.
// Adapters (HTTP, CLI) switch on the Kind; tests and callers match specific
// failures with errors.Is, which compares Kind and Reason but not Message.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies an error by who can fix it.
type Kind uint8

const (
	// KindInternal is an unexpected failure (storage, programming error).
	KindInternal Kind = iota
	// KindValidation is a user-correctable input or business-rule failure.
	KindValidation
	// KindNotFound reports a missing referenced entity.
	KindNotFound
	// KindConflict reports a lost race at a mutation boundary.
	KindConflict
	// KindExternal reports a failure originating outside the consistency
	// boundary, e.g. the payment gateway.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
}

// New creates a classified error.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error with the same Kind and Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == e.Reason
}

// WithMessage returns a copy of e with a specialised message. The copy still
// matches e under errors.Is.
func (e *Error) WithMessage(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

// WithMessagef is WithMessage with formatting.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the Reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
