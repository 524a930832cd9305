package store

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ExecutionError is a store-level failure that occurred after a statement
// was compiled: constraint violations, cast failures surfacing at execution
// time, connectivity loss, timeouts. Transient cases are retried by the
// Executor before one is surfaced; deterministic cases are never retried.
type ExecutionError struct {
	// Op names the operation that failed (e.g. "query", "create").
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConflictError reports a mutation that lost a race at commit time: the
// record changed after the caller read the version their precondition names.
type ConflictError struct {
	Resource string
	RecordID int64
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%d: %s", e.Resource, e.RecordID, e.Message)
}

// NotFoundError reports a mutation or read against a record that does not
// exist (or is soft-deleted).
type NotFoundError struct {
	Resource string
	RecordID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%d not found", e.Resource, e.RecordID)
}

// PayloadError reports a mutation payload rejected before any write: not
// valid JSON, or failing the resource's declared schema.
type PayloadError struct {
	Resource string
	Message  string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid payload for %s: %s", e.Resource, e.Message)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPayloadError reports whether err is (or wraps) a PayloadError.
func IsPayloadError(err error) bool {
	var pe *PayloadError
	return errors.As(err, &pe)
}

// isTransient reports whether an execution failure is worth retrying:
// lock contention or a dropped pooled connection. Everything else is
// deterministic given the same statement and never retried.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
