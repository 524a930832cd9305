package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docq/docq/internal/resource"
)

// OpKind labels the kind of mutation recorded in the audit log.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// MergeMode selects how an update payload combines with the stored document.
type MergeMode string

const (
	// MergeReplace swaps the whole document for the payload.
	MergeReplace MergeMode = "replace"
	// MergeMerge applies the payload as an RFC 7386 merge patch.
	MergeMerge MergeMode = "merge"
)

// UpdateOptions carries the update mode and optional concurrency
// precondition.
type UpdateOptions struct {
	Mode MergeMode

	// ExpectedUpdatedAt, when non-empty, must match the record's current
	// updated_at or the update fails with a ConflictError.
	ExpectedUpdatedAt string
}

// Record is a stored document together with its row metadata.
type Record struct {
	ID        int64
	Data      json.RawMessage
	CreatedAt string
	UpdatedAt string
}

// CreateRecord validates the payload against the resource's schema, inserts
// it, and appends a create event to the audit log. The insert and the audit
// write commit in one transaction; a record is never visible without its
// audit trail.
func (s *Store) CreateRecord(ctx context.Context, res *resource.Resource, payload []byte) (*Record, error) {
	if err := checkPayload(res, payload); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &ExecutionError{Op: "create", Err: err}
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	result, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (data, created_at, updated_at) VALUES (?, ?, ?)", res.Table),
		string(payload), now, now,
	)
	if err != nil {
		return nil, &ExecutionError{Op: "create", Err: err}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, &ExecutionError{Op: "create", Err: err}
	}

	if err := s.appendAudit(ctx, tx, res.Name, id, OpCreate, nil, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &ExecutionError{Op: "create", Err: err}
	}

	return &Record{ID: id, Data: payload, CreatedAt: now, UpdatedAt: now}, nil
}

// UpdateRecord rewrites one record, either replacing its document or merging
// the payload into it, and appends an update event carrying both the prior
// and the new document. Missing and soft-deleted records report NotFoundError;
// a stale ExpectedUpdatedAt precondition reports ConflictError.
func (s *Store) UpdateRecord(ctx context.Context, res *resource.Resource, id int64, payload []byte, opts UpdateOptions) (*Record, error) {
	if opts.Mode != MergeReplace && opts.Mode != MergeMerge {
		return nil, fmt.Errorf("unknown update mode %q", opts.Mode)
	}
	if !json.Valid(payload) {
		return nil, &PayloadError{Resource: res.Name, Message: "payload is not valid JSON"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &ExecutionError{Op: "update", Err: err}
	}
	defer tx.Rollback()

	before, updatedAt, err := readCurrent(ctx, tx, res, id)
	if err != nil {
		return nil, err
	}
	if opts.ExpectedUpdatedAt != "" && opts.ExpectedUpdatedAt != updatedAt {
		return nil, &ConflictError{
			Resource: res.Name,
			RecordID: id,
			Message:  fmt.Sprintf("expected updated_at %s, found %s", opts.ExpectedUpdatedAt, updatedAt),
		}
	}

	after := payload
	if opts.Mode == MergeMerge {
		after, err = applyMerge(before, payload)
		if err != nil {
			return nil, &ExecutionError{Op: "update", Err: err}
		}
	}
	if err := checkPayload(res, after); err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET data = ?, updated_at = ? WHERE id = ?", res.Table),
		string(after), now, id,
	); err != nil {
		return nil, &ExecutionError{Op: "update", Err: err}
	}

	if err := s.appendAudit(ctx, tx, res.Name, id, OpUpdate, before, after); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &ExecutionError{Op: "update", Err: err}
	}

	return &Record{ID: id, Data: after, UpdatedAt: now}, nil
}

// DeleteRecord removes one record and appends a delete event carrying the
// document as it stood. Resources marked soft-delete keep the row and stamp
// deleted_at, hiding it from queries; others drop the row.
func (s *Store) DeleteRecord(ctx context.Context, res *resource.Resource, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ExecutionError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	before, _, err := readCurrent(ctx, tx, res, id)
	if err != nil {
		return err
	}

	if res.SoftDelete {
		now := s.now().UTC().Format(time.RFC3339Nano)
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET deleted_at = ? WHERE id = ?", res.Table),
			now, id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id = ?", res.Table), id,
		)
	}
	if err != nil {
		return &ExecutionError{Op: "delete", Err: err}
	}

	if err := s.appendAudit(ctx, tx, res.Name, id, OpDelete, before, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &ExecutionError{Op: "delete", Err: err}
	}
	return nil
}

// GetRecord reads one live record by id.
func (s *Store) GetRecord(ctx context.Context, res *resource.Resource, id int64) (*Record, error) {
	var data, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data, created_at, updated_at FROM %s WHERE id = ? AND deleted_at IS NULL", res.Table),
		id,
	).Scan(&data, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: res.Name, RecordID: id}
	}
	if err != nil {
		return nil, &ExecutionError{Op: "get", Err: err}
	}
	return &Record{ID: id, Data: json.RawMessage(data), CreatedAt: createdAt, UpdatedAt: updatedAt}, nil
}

// readCurrent loads a live record's document and updated_at inside tx.
func readCurrent(ctx context.Context, tx *sql.Tx, res *resource.Resource, id int64) ([]byte, string, error) {
	var data, updatedAt string
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data, updated_at FROM %s WHERE id = ? AND deleted_at IS NULL", res.Table),
		id,
	).Scan(&data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", &NotFoundError{Resource: res.Name, RecordID: id}
	}
	if err != nil {
		return nil, "", &ExecutionError{Op: "read", Err: err}
	}
	return []byte(data), updatedAt, nil
}

// applyMerge decodes both documents, applies the merge patch, and re-encodes.
func applyMerge(before, patch []byte) ([]byte, error) {
	var target, p any
	if err := json.Unmarshal(before, &target); err != nil {
		return nil, fmt.Errorf("stored document is not valid JSON: %w", err)
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return json.Marshal(mergePatch(target, p))
}

// checkPayload rejects invalid JSON and schema violations before any write.
func checkPayload(res *resource.Resource, payload []byte) error {
	if !json.Valid(payload) {
		return &PayloadError{Resource: res.Name, Message: "payload is not valid JSON"}
	}
	if err := res.ValidatePayload(payload); err != nil {
		return &PayloadError{Resource: res.Name, Message: err.Error()}
	}
	return nil
}

// appendAudit writes one audit event inside the caller's transaction. The
// sequence number is a dense total order across all resources; taking
// MAX(seq)+1 inside the mutation transaction keeps it gap-free under the
// single-writer connection.
func (s *Store) appendAudit(ctx context.Context, tx *sql.Tx, resourceName string, recordID int64, kind OpKind, before, after []byte) error {
	if s.beforeAudit != nil {
		if err := s.beforeAudit(); err != nil {
			return &ExecutionError{Op: "audit", Err: err}
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log").Scan(&seq); err != nil {
		return &ExecutionError{Op: "audit", Err: err}
	}

	eventID := uuid.Must(uuid.NewV7()).String()
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, resource, record_id, op_kind, before, after, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, resourceName, recordID, string(kind), nullableText(before), nullableText(after), seq, now,
	)
	if err != nil {
		return &ExecutionError{Op: "audit", Err: err}
	}
	return nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
