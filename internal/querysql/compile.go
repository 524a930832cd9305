// Package querysql lowers a validated query into one parameterized SQLite
// statement over a JSON-bearing table.
//
// Layout contract: every resource table has columns
// (id INTEGER PRIMARY KEY, data JSON text, created_at, updated_at,
// deleted_at). Nested fields are reached with json_extract and a typed cast.
//
// Two invariants hold for every compiled statement:
//
//   - All operand values are bound parameters. No user-supplied literal ever
//     appears in the SQL text; path segments do appear inside json_extract
//     path literals, but the validator restricts them to identifier
//     characters and array indices, so they cannot carry quoting.
//   - Every non-aggregate statement carries ORDER BY with the record id as
//     the final tiebreaker, making row order total. Cursor pagination
//     depends on this.
package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docq/docq/internal/query"
)

// Compile deterministically lowers a validated Query into SQL text and its
// ordered bound-parameter list.
func Compile(q *query.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	c := &compiler{q: q}
	if q.Aggregate != nil {
		return c.compileAggregate()
	}
	return c.compileSelect()
}

type compiler struct {
	q      *query.Query
	params []any
}

func (c *compiler) compileSelect() (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT id, data")
	for i, sort := range c.q.Sorts {
		fmt.Fprintf(&b, ", %s AS sort_key_%d", typedExpr(sort.Path, sort.Type), i)
	}
	b.WriteString(" FROM ")
	b.WriteString(c.q.Target.Table)

	where, err := c.whereClause(true)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(where)

	b.WriteString(" ORDER BY ")
	for i, sort := range c.q.Sorts {
		dir := "ASC"
		if sort.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, "sort_key_%d %s, ", i, dir)
	}
	b.WriteString("id ASC")

	c.writeLimit(&b)
	return b.String(), c.params, nil
}

func (c *compiler) compileAggregate() (string, []any, error) {
	agg := c.q.Aggregate

	var b strings.Builder
	b.WriteString("SELECT ")
	for i, group := range agg.GroupBy {
		fmt.Fprintf(&b, "%s AS group_%d, ", rawExpr(group), i)
	}
	fnSQL, err := aggregateExpr(agg)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(fnSQL)
	b.WriteString(" AS agg_value FROM ")
	b.WriteString(c.q.Target.Table)

	// Row-level filters apply before grouping.
	where, err := c.whereClause(false)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(where)

	if len(agg.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i := range agg.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "group_%d", i)
		}
		b.WriteString(" ORDER BY ")
		for i := range agg.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "group_%d ASC", i)
		}
	}

	c.writeLimit(&b)
	return b.String(), c.params, nil
}

// whereClause conjoins the soft-delete guard, all filter terms, and (when
// requested) the cursor keyset predicate. Parameters are appended in text
// order.
func (c *compiler) whereClause(withCursor bool) (string, error) {
	var conjuncts []string

	if c.q.Target.SoftDelete {
		conjuncts = append(conjuncts, "deleted_at IS NULL")
	}

	for _, term := range c.q.Filters {
		lower, ok := lowerings[term.Op]
		if !ok {
			return "", fmt.Errorf("no lowering for operator %q", term.Op)
		}
		sql, params, err := lower(term)
		if err != nil {
			return "", fmt.Errorf("lower %s on %q: %w", term.Op, term.Path, err)
		}
		conjuncts = append(conjuncts, sql)
		c.params = append(c.params, params...)
	}

	if withCursor && c.q.Page.Mode == query.PageCursor && c.q.Page.Cursor != nil {
		sql, params := keysetPredicate(c.q.Sorts, c.q.Page.Cursor)
		conjuncts = append(conjuncts, sql)
		c.params = append(c.params, params...)
	}

	if len(conjuncts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conjuncts, " AND "), nil
}

func (c *compiler) writeLimit(b *strings.Builder) {
	page := c.q.Page
	switch {
	case page.Limit > 0 && page.Offset > 0:
		b.WriteString(" LIMIT ? OFFSET ?")
		c.params = append(c.params, page.Limit, page.Offset)
	case page.Limit > 0:
		b.WriteString(" LIMIT ?")
		c.params = append(c.params, page.Limit)
	case page.Offset > 0:
		// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
		b.WriteString(" LIMIT -1 OFFSET ?")
		c.params = append(c.params, page.Offset)
	}
}

// jsonPath renders a path as a SQLite JSON path literal: a.b.2 -> $.a.b[2].
func jsonPath(p query.Path) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, seg := range p {
		if seg.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
		} else {
			b.WriteByte('.')
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}

// rawExpr extracts a path without a cast. Used where untyped extraction is
// correct: string comparisons, null tests, group keys.
func rawExpr(p query.Path) string {
	return fmt.Sprintf("json_extract(data, '%s')", jsonPath(p))
}

// typedExpr extracts a path and applies the cast matching its declared type,
// so comparison operators compare in the right domain.
func typedExpr(p query.Path, t query.ValueType) string {
	switch t {
	case query.TypeNumber:
		return fmt.Sprintf("CAST(%s AS REAL)", rawExpr(p))
	case query.TypeTimestamp:
		return fmt.Sprintf("datetime(%s)", rawExpr(p))
	default:
		// JSON booleans extract as 0/1; strings as text.
		return rawExpr(p)
	}
}

// placeholder returns the bound-parameter slot for a value of type t.
// Timestamps pass through datetime() so both sides compare in SQLite's
// normalized time format.
func placeholder(t query.ValueType) string {
	if t == query.TypeTimestamp {
		return "datetime(?)"
	}
	return "?"
}

// lowering turns one FilterTerm into a SQL fragment plus its parameters.
type lowering func(term query.FilterTerm) (string, []any, error)

// lowerings maps each operator to its lowering. Adding an operator is a
// table entry here plus a vocabulary entry in the validator.
var lowerings = map[query.Operator]lowering{
	query.OpEq:        comparison("="),
	query.OpNeq:       comparison("!="),
	query.OpGt:        comparison(">"),
	query.OpGte:       comparison(">="),
	query.OpLt:        comparison("<"),
	query.OpLte:       comparison("<="),
	query.OpLike:      lowerLike,
	query.OpILike:     lowerILike,
	query.OpIn:        membership("IN"),
	query.OpNotIn:     membership("NOT IN"),
	query.OpContains:  lowerContains,
	query.OpIsNull:    lowerIsNull,
	query.OpIsNotNull: lowerIsNotNull,
}

func comparison(op string) lowering {
	return func(term query.FilterTerm) (string, []any, error) {
		if len(term.Operands) != 1 {
			return "", nil, fmt.Errorf("expected one operand, got %d", len(term.Operands))
		}
		sql := fmt.Sprintf("%s %s %s", typedExpr(term.Path, term.Type), op, placeholder(term.Type))
		return sql, []any{term.Operands[0].Param()}, nil
	}
}

// lowerLike translates the grammar's * wildcard to SQL's % and compares the
// raw text extraction.
func lowerLike(term query.FilterTerm) (string, []any, error) {
	if len(term.Operands) != 1 {
		return "", nil, fmt.Errorf("expected one operand, got %d", len(term.Operands))
	}
	pattern := strings.ReplaceAll(term.Operands[0].Str, "*", "%")
	return fmt.Sprintf("%s LIKE ?", rawExpr(term.Path)), []any{pattern}, nil
}

// lowerILike matches case-insensitively. Both sides are folded with lower()
// in SQL and strings.ToLower in Go; SQLite's own LIKE only ignores case for
// the ASCII range.
func lowerILike(term query.FilterTerm) (string, []any, error) {
	if len(term.Operands) != 1 {
		return "", nil, fmt.Errorf("expected one operand, got %d", len(term.Operands))
	}
	pattern := strings.ToLower(strings.ReplaceAll(term.Operands[0].Str, "*", "%"))
	return fmt.Sprintf("lower(%s) LIKE ?", rawExpr(term.Path)), []any{pattern}, nil
}

func membership(op string) lowering {
	return func(term query.FilterTerm) (string, []any, error) {
		if len(term.Operands) == 0 {
			return "", nil, fmt.Errorf("membership test with no operands")
		}
		slots := make([]string, len(term.Operands))
		params := make([]any, len(term.Operands))
		for i, operand := range term.Operands {
			slots[i] = placeholder(term.Type)
			params[i] = operand.Param()
		}
		sql := fmt.Sprintf("%s %s (%s)", typedExpr(term.Path, term.Type), op, strings.Join(slots, ", "))
		return sql, params, nil
	}
}

// lowerContains tests membership of the operand in the array at the path.
func lowerContains(term query.FilterTerm) (string, []any, error) {
	if len(term.Operands) != 1 {
		return "", nil, fmt.Errorf("expected one operand, got %d", len(term.Operands))
	}
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(data, '%s') WHERE json_each.value = ?)", jsonPath(term.Path))
	return sql, []any{term.Operands[0].Param()}, nil
}

// lowerIsNull matches both an absent key and an explicit JSON null.
func lowerIsNull(term query.FilterTerm) (string, []any, error) {
	path := jsonPath(term.Path)
	sql := fmt.Sprintf("(json_type(data, '%s') IS NULL OR json_type(data, '%s') = 'null')", path, path)
	return sql, nil, nil
}

func lowerIsNotNull(term query.FilterTerm) (string, []any, error) {
	path := jsonPath(term.Path)
	sql := fmt.Sprintf("(json_type(data, '%s') IS NOT NULL AND json_type(data, '%s') != 'null')", path, path)
	return sql, nil, nil
}

// aggregateExpr renders the aggregation function over its typed target.
func aggregateExpr(agg *query.Aggregation) (string, error) {
	target := ""
	if len(agg.Target) > 0 {
		target = typedExpr(agg.Target, agg.TargetType)
	}
	switch agg.Func {
	case query.AggCount:
		if target == "" {
			return "COUNT(*)", nil
		}
		return fmt.Sprintf("COUNT(%s)", target), nil
	case query.AggSum:
		return fmt.Sprintf("SUM(%s)", target), nil
	case query.AggAvg:
		return fmt.Sprintf("AVG(%s)", target), nil
	case query.AggMin:
		return fmt.Sprintf("MIN(%s)", target), nil
	case query.AggMax:
		return fmt.Sprintf("MAX(%s)", target), nil
	case query.AggDistinctCount:
		return fmt.Sprintf("COUNT(DISTINCT %s)", target), nil
	default:
		return "", fmt.Errorf("no lowering for aggregation %q", agg.Func)
	}
}

// keysetPredicate selects rows strictly after the cursor position in the
// query's total order: lexicographic comparison over the sort-key tuple,
// honoring each term's direction, with the record id as the final component.
//
// Null sort keys follow SQLite's placement - first under ASC, last under
// DESC - so the predicate branches on whether the cursor key itself is null.
func keysetPredicate(sorts []query.SortTerm, cur *query.Cursor) (string, []any) {
	return keysetAfter(sorts, cur, 0)
}

func keysetAfter(sorts []query.SortTerm, cur *query.Cursor, i int) (string, []any) {
	if i == len(sorts) {
		return "id > ?", []any{cur.ID}
	}

	expr := typedExpr(sorts[i].Path, sorts[i].Type)
	ph := placeholder(sorts[i].Type)
	key := cur.Keys[i]
	tail, tailParams := keysetAfter(sorts, cur, i+1)

	switch {
	case !sorts[i].Desc && !key.IsNull:
		sql := fmt.Sprintf("(%s > %s OR (%s = %s AND %s))", expr, ph, expr, ph, tail)
		params := append([]any{key.Param(), key.Param()}, tailParams...)
		return sql, params
	case !sorts[i].Desc && key.IsNull:
		// ASC places nulls first: everything non-null is still ahead.
		sql := fmt.Sprintf("(%s IS NOT NULL OR (%s IS NULL AND %s))", expr, expr, tail)
		return sql, tailParams
	case sorts[i].Desc && !key.IsNull:
		// DESC places nulls last: null keys are still ahead of the cursor.
		sql := fmt.Sprintf("(%s < %s OR %s IS NULL OR (%s = %s AND %s))", expr, ph, expr, expr, ph, tail)
		params := append([]any{key.Param(), key.Param()}, tailParams...)
		return sql, params
	default:
		sql := fmt.Sprintf("(%s IS NULL AND %s)", expr, tail)
		return sql, tailParams
	}
}
