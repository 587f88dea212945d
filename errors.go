package filterql

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorKind classifies a client-input error.
type ErrorKind string

const (
	KindParse              ErrorKind = "parse-error"
	KindUnknownField       ErrorKind = "unknown-field"
	KindOperatorNotAllowed ErrorKind = "operator-not-allowed"
	KindTypeMismatch       ErrorKind = "type-mismatch"
	KindTooComplex         ErrorKind = "too-complex"
	KindInvalidCursor      ErrorKind = "invalid-cursor"
	KindInvalidSort        ErrorKind = "invalid-sort"
	KindInvalidLimit       ErrorKind = "invalid-limit"
)

// ParseReason narrows down a parse error.
type ParseReason string

const (
	ReasonUnexpectedToken ParseReason = "unexpected-token"
	ReasonUnexpectedEOF   ParseReason = "unexpected-eof"
	ReasonUnknownToken    ParseReason = "unknown-token"
	ReasonUnterminated    ParseReason = "unterminated-string"
	ReasonUnmatchedParen  ParseReason = "unmatched-paren"
	ReasonEmptyList       ParseReason = "empty-list"
	ReasonEmptyFilter     ParseReason = "empty-filter"
	ReasonInvalidJSON     ParseReason = "invalid-json"
)

// Error is the single error type produced by the pipeline. Position is a byte
// offset into the filter string, or -1 when the error has no location.
type Error struct {
	Kind     ErrorKind
	Reason   ParseReason
	Position int
	Field    string
	Detail   string
}

// Sentinels for errors.Is.
var (
	ErrParse              = &Error{Kind: KindParse}
	ErrUnknownField       = &Error{Kind: KindUnknownField}
	ErrOperatorNotAllowed = &Error{Kind: KindOperatorNotAllowed}
	ErrTypeMismatch       = &Error{Kind: KindTypeMismatch}
	ErrTooComplex         = &Error{Kind: KindTooComplex}
	ErrInvalidCursor      = &Error{Kind: KindInvalidCursor}
	ErrInvalidSort        = &Error{Kind: KindInvalidSort}
	ErrInvalidLimit       = &Error{Kind: KindInvalidLimit}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Reason))
		b.WriteString(")")
	}
	if e.Position >= 0 {
		fmt.Fprintf(&b, " at %d", e.Position)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " on field %q", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrUnknownField) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// MarshalJSON renders the boundary shape consumed by the HTTP layer.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind     ErrorKind   `json:"kind"`
		Reason   ParseReason `json:"reason,omitempty"`
		Position *int        `json:"position,omitempty"`
		Field    string      `json:"field,omitempty"`
		Detail   string      `json:"detail"`
	}{Kind: e.Kind, Reason: e.Reason, Field: e.Field, Detail: e.Detail}
	if e.Position >= 0 {
		pos := e.Position
		out.Position = &pos
	}
	return json.Marshal(out)
}

func parseError(reason ParseReason, pos int, format string, args ...any) *Error {
	return &Error{Kind: KindParse, Reason: reason, Position: pos, Detail: fmt.Sprintf(format, args...)}
}

func fieldError(kind ErrorKind, field string, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Position: pos, Detail: fmt.Sprintf(format, args...)}
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Position: -1, Detail: fmt.Sprintf(format, args...)}
}
