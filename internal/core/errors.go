package core

import (
	"errors"
	"fmt"
)

// Kind classifies a job failure.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	KindValidation
	KindInitialization
	KindSynthesis
	KindEncoding
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInitialization:
		return "initialization"
	case KindSynthesis:
		return "synthesis"
	case KindEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// Error is a classified job failure. Its message is the message of the wrapped error.
type Error struct {
	Kind Kind
	// Field names the offending input key for validation failures.
	Field string
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind k.
func NewError(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// NewFieldError returns a validation error for the named input field.
func NewFieldError(field string, err error) *Error {
	return &Error{
		Kind:  KindValidation,
		Field: field,
		Err:   fmt.Errorf("invalid '%s' in input: %w", field, err),
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}
