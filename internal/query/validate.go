package query

import (
	"strconv"

	"github.com/docq/docq/internal/resource"
)

// Limits bounds what a single query may request.
type Limits struct {
	// MaxLimit caps the limit clause; queries asking for more are rejected
	// rather than clamped.
	MaxLimit int
}

// DefaultLimits is used by callers without their own policy.
var DefaultLimits = Limits{MaxLimit: 1000}

// operandArity is how many operands an operator admits.
type operandArity int

const (
	arityNone operandArity = iota
	aritySingle
	arityList
)

// opSpec declares one operator's admissible operand arity and value types.
// A nil admits set means any type.
type opSpec struct {
	arity  operandArity
	admits map[ValueType]bool
}

var orderedTypes = map[ValueType]bool{TypeNumber: true, TypeTimestamp: true}

// operators is the fixed vocabulary. Adding an operator is a table entry
// here plus a lowering entry in querysql.
var operators = map[Operator]opSpec{
	OpEq:        {arity: aritySingle},
	OpNeq:       {arity: aritySingle},
	OpGt:        {arity: aritySingle, admits: orderedTypes},
	OpGte:       {arity: aritySingle, admits: orderedTypes},
	OpLt:        {arity: aritySingle, admits: orderedTypes},
	OpLte:       {arity: aritySingle, admits: orderedTypes},
	OpLike:      {arity: aritySingle, admits: map[ValueType]bool{TypeString: true}},
	OpILike:     {arity: aritySingle, admits: map[ValueType]bool{TypeString: true}},
	OpIn:        {arity: arityList},
	OpNotIn:     {arity: arityList},
	OpContains:  {arity: aritySingle},
	OpIsNull:    {arity: arityNone},
	OpIsNotNull: {arity: arityNone},
}

// aggFuncs is the fixed aggregation vocabulary. requiresNumeric functions
// reject targets declared as anything but number.
var aggFuncs = map[AggFunc]struct{ requiresNumeric, requiresTarget bool }{
	AggCount:         {},
	AggSum:           {requiresNumeric: true, requiresTarget: true},
	AggAvg:           {requiresNumeric: true, requiresTarget: true},
	AggMin:           {requiresTarget: true},
	AggMax:           {requiresTarget: true},
	AggDistinctCount: {requiresTarget: true},
}

// Validate converts raw clauses into a typed Query against the given
// resource, or rejects the whole request with a ValidationError.
//
// Validation is all-or-nothing and side-effect free: it depends only on the
// clauses, the resource metadata and the limits.
func Validate(res *resource.Resource, clauses []RawClause, limits Limits) (*Query, error) {
	v := &validator{res: res, limits: limits}
	return v.run(clauses)
}

type validator struct {
	res    *resource.Resource
	limits Limits

	query Query

	limitClause  *RawClause
	offsetClause *RawClause
	cursorClause *RawClause
	groupClause  *RawClause
}

func (v *validator) run(clauses []RawClause) (*Query, error) {
	v.query = Query{Target: Target{
		Resource:   v.res.Name,
		Table:      v.res.Table,
		SoftDelete: v.res.SoftDelete,
	}}

	for i := range clauses {
		rc := &clauses[i]
		var err error
		switch rc.Kind {
		case KindFilter:
			err = v.addFilter(rc)
		case KindSort:
			err = v.addSorts(rc)
		case KindSelect:
			err = v.addProjection(rc)
		case KindAggregate:
			err = v.addAggregate(rc)
		case KindGroupBy:
			err = v.setOnce(&v.groupClause, rc)
		case KindLimit:
			err = v.setOnce(&v.limitClause, rc)
		case KindOffset:
			err = v.setOnce(&v.offsetClause, rc)
		case KindCursor:
			err = v.setOnce(&v.cursorClause, rc)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := v.finishAggregate(); err != nil {
		return nil, err
	}
	if err := v.finishPagination(); err != nil {
		return nil, err
	}

	q := v.query
	return &q, nil
}

func (v *validator) setOnce(slot **RawClause, rc *RawClause) error {
	if *slot != nil {
		return validationErrorf(rc.Raw, ErrCodeDuplicateClause, "%s given more than once", rc.Key)
	}
	*slot = rc
	return nil
}

// pathType resolves a path against the resource's declarations.
// The second return reports whether a declaration exists.
func (v *validator) pathType(p Path, clause string) (ValueType, bool, error) {
	dotted := p.String()
	if name, ok := v.res.PathType(dotted); ok {
		return ValueType(name), true, nil
	}
	if v.res.EnforcePaths {
		return "", false, validationErrorf(clause, ErrCodePathNotAllowed,
			"path %q is not queryable on resource %s", dotted, v.res.Name)
	}
	return "", false, nil
}

func (v *validator) parsePath(raw, clause string) (Path, error) {
	p, err := ParsePath(raw)
	if err != nil {
		return nil, validationErrorf(clause, ErrCodeBadPath, "%v", err)
	}
	return p, nil
}

func (v *validator) addFilter(rc *RawClause) error {
	op := Operator(rc.Op)
	spec, ok := operators[op]
	if !ok {
		return validationErrorf(rc.Raw, ErrCodeUnknownOperator, "unknown operator %q", rc.Op)
	}

	// An equality clause with an operand list is shorthand for membership.
	if len(rc.Operands) > 1 {
		switch op {
		case OpEq:
			op = OpIn
			spec = operators[op]
		case OpNeq:
			op = OpNotIn
			spec = operators[op]
		}
	}

	path, err := v.parsePath(rc.Key, rc.Raw)
	if err != nil {
		return err
	}

	switch spec.arity {
	case arityNone:
		if len(rc.Operands) != 0 {
			return validationErrorf(rc.Raw, ErrCodeBadArity, "%s takes no operands", op)
		}
	case aritySingle:
		if len(rc.Operands) != 1 {
			return validationErrorf(rc.Raw, ErrCodeBadArity, "%s takes exactly one operand, got %d", op, len(rc.Operands))
		}
	case arityList:
		if len(rc.Operands) == 0 {
			return validationErrorf(rc.Raw, ErrCodeBadArity, "%s requires at least one operand", op)
		}
	}

	termType, declared, err := v.pathType(path, rc.Raw)
	if err != nil {
		return err
	}
	if !declared {
		if len(rc.Operands) > 0 {
			termType = InferType(rc.Operands[0])
		} else {
			termType = TypeString
		}
	}

	if spec.admits != nil && !spec.admits[termType] {
		return validationErrorf(rc.Raw, ErrCodeTypeMismatch,
			"operator %s does not apply to %s-typed path %q", op, termType, path)
	}

	operands := make([]Value, 0, len(rc.Operands))
	for _, raw := range rc.Operands {
		val, err := ParseValue(raw, termType)
		if err != nil {
			return validationErrorf(rc.Raw, ErrCodeBadOperand, "%v", err)
		}
		operands = append(operands, val)
	}

	v.query.Filters = append(v.query.Filters, FilterTerm{
		Path:     path,
		Op:       op,
		Type:     termType,
		Operands: operands,
	})
	return nil
}

func (v *validator) addSorts(rc *RawClause) error {
	var desc bool
	switch rc.Op {
	case "asc":
		desc = false
	case "desc":
		desc = true
	default:
		return validationErrorf(rc.Raw, ErrCodeBadDirection, "direction must be asc or desc, got %q", rc.Op)
	}
	if len(rc.Operands) == 0 {
		return validationErrorf(rc.Raw, ErrCodeBadPath, "order clause names no paths")
	}
	for _, raw := range rc.Operands {
		path, err := v.parsePath(raw, rc.Raw)
		if err != nil {
			return err
		}
		sortType, declared, err := v.pathType(path, rc.Raw)
		if err != nil {
			return err
		}
		if !declared {
			// Undeclared sort keys order as text.
			sortType = TypeString
		}
		v.query.Sorts = append(v.query.Sorts, SortTerm{Path: path, Type: sortType, Desc: desc})
	}
	return nil
}

func (v *validator) addProjection(rc *RawClause) error {
	if v.query.Projection != nil {
		return validationErrorf(rc.Raw, ErrCodeDuplicateClause, "select given more than once")
	}
	if len(rc.Operands) == 0 {
		return validationErrorf(rc.Raw, ErrCodeBadPath, "select clause names no paths")
	}
	for _, raw := range rc.Operands {
		path, err := v.parsePath(raw, rc.Raw)
		if err != nil {
			return err
		}
		if _, _, err := v.pathType(path, rc.Raw); err != nil {
			return err
		}
		v.query.Projection = append(v.query.Projection, path)
	}
	return nil
}

func (v *validator) addAggregate(rc *RawClause) error {
	if v.query.Aggregate != nil {
		return validationErrorf(rc.Raw, ErrCodeDuplicateClause, "aggregate given more than once")
	}
	fn := AggFunc(rc.Op)
	spec, ok := aggFuncs[fn]
	if !ok {
		return validationErrorf(rc.Raw, ErrCodeBadAggregate, "unknown aggregation function %q", rc.Op)
	}

	agg := &Aggregation{Func: fn}
	hasTarget := len(rc.Operands) == 1 && rc.Operands[0] != ""
	if len(rc.Operands) > 1 {
		return validationErrorf(rc.Raw, ErrCodeBadAggregate, "%s takes a single target path", fn)
	}
	if spec.requiresTarget && !hasTarget {
		return validationErrorf(rc.Raw, ErrCodeBadAggregate, "%s requires a target path", fn)
	}

	if hasTarget {
		path, err := v.parsePath(rc.Operands[0], rc.Raw)
		if err != nil {
			return err
		}
		targetType, declared, err := v.pathType(path, rc.Raw)
		if err != nil {
			return err
		}
		if spec.requiresNumeric {
			if declared && targetType != TypeNumber {
				return validationErrorf(rc.Raw, ErrCodeTypeMismatch,
					"%s requires a numeric target, %q is %s", fn, path, targetType)
			}
			targetType = TypeNumber
		} else if !declared {
			targetType = TypeString
		}
		agg.Target = path
		agg.TargetType = targetType
	}

	v.query.Aggregate = agg
	return nil
}

func (v *validator) finishAggregate() error {
	if v.groupClause != nil && v.query.Aggregate == nil {
		return validationErrorf(v.groupClause.Raw, ErrCodeBadAggregate, "groupby requires an aggregate clause")
	}
	if v.query.Aggregate == nil {
		return nil
	}
	if v.query.Projection != nil {
		return validationErrorf("", ErrCodeBadAggregate, "select cannot be combined with aggregate")
	}
	if v.cursorClause != nil {
		return validationErrorf(v.cursorClause.Raw, ErrCodeBadAggregate, "cursor pagination cannot be combined with aggregate")
	}
	if v.groupClause == nil {
		return nil
	}
	// "groupby=none" is the explicit no-grouping marker.
	if len(v.groupClause.Operands) == 1 && v.groupClause.Operands[0] == "none" {
		return nil
	}
	for _, raw := range v.groupClause.Operands {
		path, err := v.parsePath(raw, v.groupClause.Raw)
		if err != nil {
			return err
		}
		if _, _, err := v.pathType(path, v.groupClause.Raw); err != nil {
			return err
		}
		v.query.Aggregate.GroupBy = append(v.query.Aggregate.GroupBy, path)
	}
	return nil
}

func (v *validator) finishPagination() error {
	page := Pagination{Mode: PageOffset}

	if v.limitClause != nil {
		raw := v.limitClause.Operands[0]
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return validationErrorf(v.limitClause.Raw, ErrCodeBadLimit, "limit must be a positive integer, got %q", raw)
		}
		if v.limits.MaxLimit > 0 && n > v.limits.MaxLimit {
			return validationErrorf(v.limitClause.Raw, ErrCodeBadLimit, "limit %d exceeds maximum %d", n, v.limits.MaxLimit)
		}
		page.Limit = n
	}

	if v.offsetClause != nil {
		raw := v.offsetClause.Operands[0]
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return validationErrorf(v.offsetClause.Raw, ErrCodeBadOffset, "offset must be a non-negative integer, got %q", raw)
		}
		page.Offset = n
	}

	if v.cursorClause != nil {
		if v.offsetClause != nil {
			return validationErrorf(v.cursorClause.Raw, ErrCodeConflictingPagination,
				"cursor and offset cannot be combined")
		}
		cur, err := DecodeCursor(v.cursorClause.Operands[0])
		if err != nil {
			return validationErrorf(v.cursorClause.Raw, ErrCodeBadCursor, "%v", err)
		}
		if len(cur.Keys) != len(v.query.Sorts) {
			return validationErrorf(v.cursorClause.Raw, ErrCodeBadCursor,
				"cursor carries %d sort keys, query has %d sort terms", len(cur.Keys), len(v.query.Sorts))
		}
		for i, key := range cur.Keys {
			if key.Type != v.query.Sorts[i].Type {
				return validationErrorf(v.cursorClause.Raw, ErrCodeBadCursor,
					"cursor key %d is %s, sort term is %s", i, key.Type, v.query.Sorts[i].Type)
			}
		}
		page.Mode = PageCursor
		page.Cursor = cur
	}

	v.query.Page = page
	return nil
}
