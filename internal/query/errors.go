package query

import (
	"errors"
	"fmt"
)

// Error codes shared by ParseError and ValidationError.
// Parse codes describe lexical faults; validation codes describe semantic
// faults. Both carry the offending clause verbatim so callers can echo it.
const (
	// Parse errors.
	ErrCodeEmptyClause      = "EMPTY_CLAUSE"       // clause with no key
	ErrCodeEmptyPath        = "EMPTY_PATH"         // filter clause with empty path
	ErrCodeBadEscape        = "BAD_ESCAPE"         // malformed percent-encoding
	ErrCodeMissingSeparator = "MISSING_SEPARATOR"  // no "::" between operator and operand

	// Validation errors.
	ErrCodeUnknownOperator       = "UNKNOWN_OPERATOR"
	ErrCodeBadArity              = "BAD_ARITY"
	ErrCodeBadOperand            = "BAD_OPERAND"
	ErrCodeTypeMismatch          = "TYPE_MISMATCH"
	ErrCodeBadPath               = "BAD_PATH"
	ErrCodePathNotAllowed        = "PATH_NOT_ALLOWED"
	ErrCodeBadDirection          = "BAD_DIRECTION"
	ErrCodeBadLimit              = "BAD_LIMIT"
	ErrCodeBadOffset             = "BAD_OFFSET"
	ErrCodeBadCursor             = "BAD_CURSOR"
	ErrCodeConflictingPagination = "CONFLICTING_PAGINATION"
	ErrCodeDuplicateClause       = "DUPLICATE_CLAUSE"
	ErrCodeBadAggregate          = "BAD_AGGREGATE"
	ErrCodeUnknownResource       = "UNKNOWN_RESOURCE"
)

// ParseError reports a lexically malformed query string.
// Parse errors never reach validation, let alone the store.
type ParseError struct {
	// Clause is the offending clause, verbatim as received.
	Clause string

	// Code identifies the fault category.
	Code string

	// Message is a human-readable description.
	Message string
}

func (e *ParseError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("%s: %s in clause %q", e.Code, e.Message, e.Clause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError reports a semantically invalid clause: an unknown operator,
// a type mismatch, a path outside the resource's allow-list, and so on.
// Validation errors never reach the store.
type ValidationError struct {
	// Clause is the offending clause, verbatim as received.
	Clause string

	// Code identifies the fault category.
	Code string

	// Message is a human-readable description.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("%s: %s in clause %q", e.Code, e.Message, e.Clause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func parseErrorf(clause, code, format string, args ...any) *ParseError {
	return &ParseError{Clause: clause, Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationErrorf(clause, code, format string, args ...any) *ValidationError {
	return &ValidationError{Clause: clause, Code: code, Message: fmt.Sprintf(format, args...)}
}
