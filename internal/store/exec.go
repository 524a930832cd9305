package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docq/docq/internal/query"
	"github.com/docq/docq/internal/querysql"
)

// ResultPage is the shaped outcome of one query execution: an ordered list
// of JSON objects (or aggregation tuples) plus the cursor resuming the
// traversal. NextCursor is empty when the result set is exhausted.
type ResultPage struct {
	Items      []map[string]any
	NextCursor string
}

// Executor runs compiled statements through the store's pooled connection
// and shapes rows back into JSON values.
type Executor struct {
	store       *Store
	maxAttempts int
	backoffBase time.Duration
}

// NewExecutor creates an Executor with default retry policy.
func NewExecutor(s *Store) *Executor {
	return &Executor{
		store:       s,
		maxAttempts: 3,
		backoffBase: 50 * time.Millisecond,
	}
}

// Run compiles and executes a validated query.
//
// Transient failures (lock contention, dropped connection) are retried with
// exponential backoff up to the attempt bound; statement-level failures are
// deterministic given the same input and surface immediately as an
// ExecutionError.
func (e *Executor) Run(ctx context.Context, q *query.Query) (*ResultPage, error) {
	// Fetch one row past the window so an exactly-full final page comes
	// back without a resume token instead of forcing an empty follow-up
	// fetch. shapeRecords trims the extra row off again.
	compiled := q
	if q.Aggregate == nil && q.Page.Limit > 0 {
		lookahead := *q
		lookahead.Page.Limit++
		compiled = &lookahead
	}

	stmt, params, err := querysql.Compile(compiled)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	rows, err := e.queryWithRetry(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if q.Aggregate != nil {
		return e.shapeAggregate(rows, q)
	}
	return e.shapeRecords(rows, q)
}

func (e *Executor) queryWithRetry(ctx context.Context, stmt string, params []any) (*sql.Rows, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		rows, err := e.store.db.QueryContext(ctx, stmt, params...)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		if attempt == e.maxAttempts {
			break
		}
		backoff := e.backoffBase << (attempt - 1)
		select {
		case <-ctx.Done():
			return nil, &ExecutionError{Op: "query", Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	return nil, &ExecutionError{Op: "query", Err: lastErr}
}

// shapeRecords scans (id, data, sort keys...) rows, applies the projection,
// and computes the next cursor.
func (e *Executor) shapeRecords(rows *sql.Rows, q *query.Query) (*ResultPage, error) {
	items := []map[string]any{}
	var ids []int64
	var rowKeys [][]query.Value

	for rows.Next() {
		var id int64
		var data string
		keyDests := make([]any, len(q.Sorts))
		dests := make([]any, 0, 2+len(q.Sorts))
		dests = append(dests, &id, &data)
		for i, sort := range q.Sorts {
			keyDests[i] = sortKeyDest(sort.Type)
			dests = append(dests, keyDests[i])
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, &ExecutionError{Op: "scan", Err: err}
		}

		var payload any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, &ExecutionError{Op: "scan", Err: fmt.Errorf("stored payload is not valid JSON: %w", err)}
		}

		item := shapeItem(payload, q.Projection)
		items = append(items, item)
		ids = append(ids, id)

		keys := make([]query.Value, len(q.Sorts))
		for i, sort := range q.Sorts {
			keys[i] = sortKeyValue(keyDests[i], sort.Type)
		}
		rowKeys = append(rowKeys, keys)
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecutionError{Op: "iterate", Err: err}
	}

	page := &ResultPage{Items: items}

	// The statement over-fetched by one row. Its presence proves the
	// traversal continues: trim it and resume from the last visible row.
	// A page within the limit, full or not, means the set is exhausted.
	if limit := q.Page.Limit; limit > 0 && len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = (&query.Cursor{ID: ids[limit-1], Keys: rowKeys[limit-1]}).Encode()
	}

	return page, nil
}

// sortKeyDest returns a scan destination for a sort-key column of type t.
func sortKeyDest(t query.ValueType) any {
	switch t {
	case query.TypeNumber, query.TypeBoolean:
		return &sql.NullFloat64{}
	default:
		return &sql.NullString{}
	}
}

// sortKeyValue converts a scanned sort-key column back into a typed Value
// for cursor encoding.
func sortKeyValue(dest any, t query.ValueType) query.Value {
	switch t {
	case query.TypeNumber:
		nf := dest.(*sql.NullFloat64)
		if !nf.Valid {
			return query.Value{Type: t, IsNull: true}
		}
		return query.Value{Type: t, Num: nf.Float64}
	case query.TypeBoolean:
		nf := dest.(*sql.NullFloat64)
		if !nf.Valid {
			return query.Value{Type: t, IsNull: true}
		}
		return query.Value{Type: t, Bool: nf.Float64 != 0}
	case query.TypeTimestamp:
		ns := dest.(*sql.NullString)
		if !ns.Valid {
			return query.Value{Type: t, IsNull: true}
		}
		// datetime() renders "YYYY-MM-DD HH:MM:SS"; reshape to RFC 3339.
		if ts, err := time.Parse("2006-01-02 15:04:05", ns.String); err == nil {
			return query.Value{Type: t, Time: ts.UTC()}
		}
		return query.Value{Type: t, IsNull: true}
	default:
		ns := dest.(*sql.NullString)
		if !ns.Valid {
			return query.Value{Type: t, IsNull: true}
		}
		return query.Value{Type: t, Str: ns.String}
	}
}

// shapeItem applies the projection to a decoded payload. Without a
// projection the full payload is returned; non-object payloads are wrapped
// under "value" so every item is an object.
func shapeItem(payload any, projection []query.Path) map[string]any {
	if projection == nil {
		if obj, ok := payload.(map[string]any); ok {
			return obj
		}
		return map[string]any{"value": payload}
	}

	out := any(map[string]any{})
	for _, path := range projection {
		if v, ok := getPath(payload, path); ok {
			out = setPath(out, path, v)
		}
	}
	return out.(map[string]any)
}

// getPath walks a decoded JSON tree along a path.
func getPath(v any, p query.Path) (any, bool) {
	cur := v
	for _, seg := range p {
		if seg.IsIndex {
			arr, ok := cur.([]any)
			if !ok || seg.Index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.Index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg.Key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath writes a value into a (possibly empty) JSON tree along a path,
// creating objects and arrays as needed. Array gaps are padded with nulls.
func setPath(container any, p query.Path, val any) any {
	if len(p) == 0 {
		return val
	}
	seg := p[0]
	if seg.IsIndex {
		arr, _ := container.([]any)
		for len(arr) <= seg.Index {
			arr = append(arr, nil)
		}
		arr[seg.Index] = setPath(arr[seg.Index], p[1:], val)
		return arr
	}
	obj, ok := container.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	obj[seg.Key] = setPath(obj[seg.Key], p[1:], val)
	return obj
}

// shapeAggregate scans (group keys..., agg_value) rows into result tuples.
// Ungrouped aggregations yield exactly one tuple, e.g. {"sum": 70}. SQL's
// NULL for sum/avg/min/max over zero rows passes through as nil.
func (e *Executor) shapeAggregate(rows *sql.Rows, q *query.Query) (*ResultPage, error) {
	agg := q.Aggregate
	label := string(agg.Func)

	items := []map[string]any{}
	for rows.Next() {
		groupDests := make([]any, len(agg.GroupBy))
		dests := make([]any, 0, len(agg.GroupBy)+1)
		for i := range agg.GroupBy {
			var v any
			groupDests[i] = &v
			dests = append(dests, &v)
		}
		var aggValue any
		dests = append(dests, &aggValue)

		if err := rows.Scan(dests...); err != nil {
			return nil, &ExecutionError{Op: "scan", Err: err}
		}

		item := map[string]any{label: normalizeScanned(aggValue)}
		if len(agg.GroupBy) > 0 {
			group := map[string]any{}
			for i, path := range agg.GroupBy {
				group[path.String()] = normalizeScanned(*(groupDests[i].(*any)))
			}
			item["group"] = group
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecutionError{Op: "iterate", Err: err}
	}

	return &ResultPage{Items: items}, nil
}

// normalizeScanned maps driver-native scan values onto plain JSON values.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
