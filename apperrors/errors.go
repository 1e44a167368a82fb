package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that translate it into a response.
type Kind int

const (
	Unexpected Kind = iota
	NotFoundKind
	BusinessRuleKind
	DuplicateKind
	ConflictKind
	UnavailableKind
)

func (k Kind) String() string {
	switch k {
	case NotFoundKind:
		return "not_found"
	case BusinessRuleKind:
		return "business_rule_violation"
	case DuplicateKind:
		return "duplicate_request"
	case ConflictKind:
		return "conflict"
	case UnavailableKind:
		return "service_unavailable"
	default:
		return "unexpected"
	}
}

// Error carries a Kind, a client-safe message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound     = &Error{Kind: NotFoundKind}
	ErrBusinessRule = &Error{Kind: BusinessRuleKind}
	ErrDuplicate    = &Error{Kind: DuplicateKind}
	ErrConflict     = &Error{Kind: ConflictKind}
	ErrUnavailable  = &Error{Kind: UnavailableKind}
)

func NotFound(resource, field string, value any) error {
	return &Error{Kind: NotFoundKind, Msg: fmt.Sprintf("%s not found with %s: %v", resource, field, value)}
}

func BusinessRule(format string, args ...any) error {
	return &Error{Kind: BusinessRuleKind, Msg: fmt.Sprintf(format, args...)}
}

// Violation wraps cause (typically a state machine error) as a business rule failure.
func Violation(cause error) error {
	return &Error{Kind: BusinessRuleKind, Msg: cause.Error(), Err: cause}
}

func Duplicate(format string, args ...any) error {
	return &Error{Kind: DuplicateKind, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: ConflictKind, Msg: fmt.Sprintf(format, args...)}
}

func Unavailable(service string, cause error) error {
	return &Error{Kind: UnavailableKind, Msg: service + " unavailable", Err: cause}
}

// KindOf reports the kind of the first *Error in err's chain, or Unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// Message returns the client-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal server error"
}
