package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueType is the declared type of a filter operand, sort key, or
// aggregation target. Operators and aggregation functions admit specific
// types; the validator rejects mismatches before anything is compiled.
type ValueType string

const (
	TypeString    ValueType = "string"
	TypeNumber    ValueType = "number"
	TypeBoolean   ValueType = "boolean"
	TypeTimestamp ValueType = "timestamp"
)

// Segment is one step of a JSON path: either an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path is a non-empty ordered sequence of JSON keys and array indices,
// written in the grammar as dot-separated segments (e.g. "friends.0.name").
//
// Key segments are restricted to identifier characters. This is a safety
// invariant, not a convenience: path text is embedded in json_extract
// expressions by the compiler, so the validator must guarantee it can never
// carry quoting characters.
type Path []Segment

// ParsePath parses a dotted path string. Segments consisting solely of
// digits become array indices; all other segments must be identifiers.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(s, ".")
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty path segment in %q", s)
		}
		if isDigits(part) {
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid array index %q in %q", part, s)
			}
			path = append(path, Segment{Index: idx, IsIndex: true})
			continue
		}
		if !isIdentifier(part) {
			return nil, fmt.Errorf("invalid path segment %q in %q", part, s)
		}
		path = append(path, Segment{Key: part})
	}
	return path, nil
}

// String renders the path in its dotted grammar form.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		if seg.IsIndex {
			b.WriteString(strconv.Itoa(seg.Index))
		} else {
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(s) > 0
}

// Value is a typed literal operand. Exactly one of the payload fields is
// meaningful, selected by Type. IsNull marks the absence of a value and is
// only produced when reading sort keys back from the store for cursors -
// operands in the grammar are never null.
type Value struct {
	Type   ValueType
	IsNull bool
	Str    string
	Num    float64
	Bool   bool
	Time   time.Time
}

// Param returns the value in the shape it is bound to a SQL parameter.
func (v Value) Param() any {
	if v.IsNull {
		return nil
	}
	switch v.Type {
	case TypeNumber:
		return v.Num
	case TypeBoolean:
		if v.Bool {
			return 1
		}
		return 0
	case TypeTimestamp:
		return v.Time.UTC().Format(time.RFC3339Nano)
	default:
		return v.Str
	}
}

// ParseValue parses a raw operand string as the given type.
func ParseValue(raw string, t ValueType) (Value, error) {
	switch t {
	case TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a number", raw)
		}
		return Value{Type: TypeNumber, Num: n}, nil
	case TypeBoolean:
		switch raw {
		case "true":
			return Value{Type: TypeBoolean, Bool: true}, nil
		case "false":
			return Value{Type: TypeBoolean, Bool: false}, nil
		}
		return Value{}, fmt.Errorf("%q is not a boolean", raw)
	case TypeTimestamp:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a timestamp", raw)
		}
		return Value{Type: TypeTimestamp, Time: ts}, nil
	default:
		return Value{Type: TypeString, Str: raw}, nil
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// InferType types an operand from its syntax alone: number, boolean,
// timestamp, else string. Used only for paths the resource does not declare;
// declared paths always carry their declared type.
func InferType(raw string) ValueType {
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return TypeNumber
	}
	if raw == "true" || raw == "false" {
		return TypeBoolean
	}
	if _, err := parseTimestamp(raw); err == nil {
		return TypeTimestamp
	}
	return TypeString
}

// Operator names the fixed filter vocabulary.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNeq       Operator = "neq"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpLike      Operator = "like"
	OpILike     Operator = "ilike"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not-in"
	OpContains  Operator = "contains"
	OpIsNull    Operator = "is-null"
	OpIsNotNull Operator = "is-not-null"
)

// FilterTerm is one predicate: path, operator, typed operands.
// All FilterTerms of a Query are implicitly AND-combined.
type FilterTerm struct {
	Path     Path
	Op       Operator
	Type     ValueType
	Operands []Value
}

// SortTerm is one ORDER BY component. Type drives the cast applied to the
// extracted JSON value so ordering is typed rather than lexical.
type SortTerm struct {
	Path Path
	Type ValueType
	Desc bool
}

// PaginationMode selects between offset and cursor (keyset) pagination.
type PaginationMode int

const (
	PageOffset PaginationMode = iota
	PageCursor
)

// Pagination describes how a result set is windowed.
// Limit 0 means unbounded (no LIMIT clause is emitted).
type Pagination struct {
	Mode   PaginationMode
	Limit  int
	Offset int
	Cursor *Cursor
}

// AggFunc names the fixed aggregation vocabulary.
type AggFunc string

const (
	AggCount         AggFunc = "count"
	AggSum           AggFunc = "sum"
	AggAvg           AggFunc = "avg"
	AggMin           AggFunc = "min"
	AggMax           AggFunc = "max"
	AggDistinctCount AggFunc = "distinct-count"
)

// Aggregation replaces the row-level result shape with a grouped computation.
// Target is empty for count (COUNT(*)). Row-level filters still apply before
// grouping.
type Aggregation struct {
	Func       AggFunc
	Target     Path
	TargetType ValueType
	GroupBy    []Path
}

// Target identifies the physical table a query runs against, carried on the
// Query so the compiler needs no access to resource metadata.
type Target struct {
	Resource   string
	Table      string
	SoftDelete bool
}

// Query is a fully validated, compilable query. It is constructed once per
// request by Validate, consumed once by the compiler and executor, and never
// mutated or shared afterwards.
type Query struct {
	Target     Target
	Filters    []FilterTerm
	Sorts      []SortTerm
	Page       Pagination
	Aggregate  *Aggregation
	Projection []Path
}
