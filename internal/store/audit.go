package store

import (
	"context"
	"encoding/json"
)

// AuditEvent is one recorded mutation. Before and After hold the document
// on either side of the change; creates have no Before, deletes no After.
type AuditEvent struct {
	EventID   string          `json:"eventId"`
	Resource  string          `json:"resource"`
	RecordID  int64           `json:"recordId"`
	Op        OpKind          `json:"op"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Seq       int64           `json:"seq"`
	CreatedAt string          `json:"createdAt"`
}

// AuditTrail returns the audit events for a resource in commit order. A
// recordID greater than zero narrows the trail to that record.
func (s *Store) AuditTrail(ctx context.Context, resourceName string, recordID int64) ([]AuditEvent, error) {
	stmt := `
		SELECT event_id, resource, record_id, op_kind, before, after, seq, created_at
		FROM audit_log
		WHERE resource = ?`
	params := []any{resourceName}
	if recordID > 0 {
		stmt += " AND record_id = ?"
		params = append(params, recordID)
	}
	stmt += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, &ExecutionError{Op: "audit-trail", Err: err}
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var before, after *string
		if err := rows.Scan(&ev.EventID, &ev.Resource, &ev.RecordID, &ev.Op, &before, &after, &ev.Seq, &ev.CreatedAt); err != nil {
			return nil, &ExecutionError{Op: "audit-trail", Err: err}
		}
		if before != nil {
			ev.Before = json.RawMessage(*before)
		}
		if after != nil {
			ev.After = json.RawMessage(*after)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecutionError{Op: "audit-trail", Err: err}
	}
	return events, nil
}
