package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docq/docq/internal/resource"
)

// testResource builds typed metadata used across validation tests.
func testResource(t *testing.T, enforce bool) *resource.Resource {
	t.Helper()
	res, err := resource.New(resource.Config{
		Name:         "people",
		EnforcePaths: enforce,
		Paths: map[string]string{
			"name":    "string",
			"age":     "number",
			"total":   "number",
			"active":  "boolean",
			"created": "timestamp",
			"status":  "string",
		},
	})
	require.NoError(t, err)
	return res
}

func validate(t *testing.T, res *resource.Resource, raw string) (*Query, error) {
	t.Helper()
	clauses, err := Parse(raw)
	require.NoError(t, err, "query %q must parse", raw)
	return Validate(res, clauses, DefaultLimits)
}

func requireValidationCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected a validation error, got %v", err)
	assert.Equal(t, code, ve.Code)
}

func TestValidate_TypedFilter(t *testing.T) {
	res := testResource(t, true)

	q, err := validate(t, res, "age=gt::30")
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)

	term := q.Filters[0]
	assert.Equal(t, OpGt, term.Op)
	assert.Equal(t, TypeNumber, term.Type)
	require.Len(t, term.Operands, 1)
	assert.Equal(t, 30.0, term.Operands[0].Num)
}

func TestValidate_TimestampFilter(t *testing.T) {
	res := testResource(t, true)

	q, err := validate(t, res, "created=gte::2024-01-01")
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, TypeTimestamp, q.Filters[0].Type)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), q.Filters[0].Operands[0].Time)
}

func TestValidate_EqWithListBecomesMembership(t *testing.T) {
	res := testResource(t, true)

	q, err := validate(t, res, "name=eq::Ann,Bob")
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, OpIn, q.Filters[0].Op)
	require.Len(t, q.Filters[0].Operands, 2)

	q, err = validate(t, res, "name=neq::Ann,Bob")
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, OpNotIn, q.Filters[0].Op)
}

func TestValidate_UnknownOperator(t *testing.T) {
	res := testResource(t, true)
	_, err := validate(t, res, "age=between::1,2")
	requireValidationCode(t, err, ErrCodeUnknownOperator)
}

func TestValidate_Arity(t *testing.T) {
	res := testResource(t, true)

	testCases := []struct {
		name  string
		query string
	}{
		{"zero_arity_given_operand", "name=is-null::x"},
		{"single_arity_given_list", "age=gt::1,2"},
		{"list_arity_given_nothing", "status=in::"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validate(t, res, tc.query)
			requireValidationCode(t, err, ErrCodeBadArity)
		})
	}
}

func TestValidate_TypeMismatch(t *testing.T) {
	res := testResource(t, true)

	// Ordering operators need an ordered type; like needs a string.
	_, err := validate(t, res, "name=gt::abc")
	requireValidationCode(t, err, ErrCodeTypeMismatch)

	_, err = validate(t, res, "age=like::4*")
	requireValidationCode(t, err, ErrCodeTypeMismatch)

	_, err = validate(t, res, "age=ilike::4*")
	requireValidationCode(t, err, ErrCodeTypeMismatch)
}

func TestValidate_BadOperand(t *testing.T) {
	res := testResource(t, true)

	_, err := validate(t, res, "age=eq::abc")
	requireValidationCode(t, err, ErrCodeBadOperand)

	_, err = validate(t, res, "active=eq::yes")
	requireValidationCode(t, err, ErrCodeBadOperand)
}

func TestValidate_PathAllowList(t *testing.T) {
	enforced := testResource(t, true)
	_, err := validate(t, enforced, "nickname=eq::gr")
	requireValidationCode(t, err, ErrCodePathNotAllowed)

	// With enforcement off the same path is admitted and typed from its
	// operand syntax.
	open := testResource(t, false)
	q, err := validate(t, open, "height=gt::180")
	require.NoError(t, err)
	assert.Equal(t, TypeNumber, q.Filters[0].Type)
}

func TestValidate_BadPath(t *testing.T) {
	res := testResource(t, false)
	_, err := validate(t, res, "a..b=eq::1")
	requireValidationCode(t, err, ErrCodeBadPath)

	_, err = validate(t, res, "a%27b=eq::1")
	requireValidationCode(t, err, ErrCodeBadPath)
}

func TestValidate_Sorts(t *testing.T) {
	res := testResource(t, true)

	q, err := validate(t, res, "order=desc::total,created")
	require.NoError(t, err)
	require.Len(t, q.Sorts, 2)
	assert.Equal(t, TypeNumber, q.Sorts[0].Type)
	assert.True(t, q.Sorts[0].Desc)
	assert.Equal(t, TypeTimestamp, q.Sorts[1].Type)

	_, err = validate(t, res, "order=sideways::total")
	requireValidationCode(t, err, ErrCodeBadDirection)
}

func TestValidate_Pagination(t *testing.T) {
	res := testResource(t, true)

	q, err := validate(t, res, "limit=20&offset=40")
	require.NoError(t, err)
	assert.Equal(t, PageOffset, q.Page.Mode)
	assert.Equal(t, 20, q.Page.Limit)
	assert.Equal(t, 40, q.Page.Offset)

	testCases := []struct {
		name  string
		query string
		code  string
	}{
		{"zero_limit", "limit=0", ErrCodeBadLimit},
		{"negative_limit", "limit=-5", ErrCodeBadLimit},
		{"non_numeric_limit", "limit=ten", ErrCodeBadLimit},
		{"limit_above_max", "limit=1001", ErrCodeBadLimit},
		{"negative_offset", "offset=-1", ErrCodeBadOffset},
		{"duplicate_limit", "limit=1&limit=2", ErrCodeDuplicateClause},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validate(t, res, tc.query)
			requireValidationCode(t, err, tc.code)
		})
	}
}

func TestValidate_CursorRoundTrip(t *testing.T) {
	res := testResource(t, true)

	cur := &Cursor{Keys: []Value{{Type: TypeNumber, Num: 42}}, ID: 7}
	q, err := validate(t, res, "order=asc::age&cursor="+cur.Encode())
	require.NoError(t, err)
	assert.Equal(t, PageCursor, q.Page.Mode)
	require.NotNil(t, q.Page.Cursor)
	assert.Equal(t, int64(7), q.Page.Cursor.ID)
}

func TestValidate_CursorMismatches(t *testing.T) {
	res := testResource(t, true)

	// Arity: cursor carries one key, query sorts on two paths.
	one := &Cursor{Keys: []Value{{Type: TypeNumber, Num: 1}}, ID: 1}
	_, err := validate(t, res, "order=asc::age,created&cursor="+one.Encode())
	requireValidationCode(t, err, ErrCodeBadCursor)

	// Type: string key against a number sort term.
	str := &Cursor{Keys: []Value{{Type: TypeString, Str: "x"}}, ID: 1}
	_, err = validate(t, res, "order=asc::age&cursor="+str.Encode())
	requireValidationCode(t, err, ErrCodeBadCursor)

	// Garbage token.
	_, err = validate(t, res, "cursor=!!not-base64!!")
	requireValidationCode(t, err, ErrCodeBadCursor)
}

func TestValidate_CursorExcludesOffset(t *testing.T) {
	res := testResource(t, true)
	cur := &Cursor{ID: 3}
	_, err := validate(t, res, "offset=10&cursor="+cur.Encode())
	requireValidationCode(t, err, ErrCodeConflictingPagination)
}

func TestValidate_Aggregates(t *testing.T) {
	res := testResource(t, true)

	q, err := validate(t, res, "aggregate=count::")
	require.NoError(t, err)
	require.NotNil(t, q.Aggregate)
	assert.Equal(t, AggCount, q.Aggregate.Func)
	assert.Empty(t, q.Aggregate.Target)

	q, err = validate(t, res, "aggregate=sum::total&groupby=status")
	require.NoError(t, err)
	assert.Equal(t, AggSum, q.Aggregate.Func)
	assert.Equal(t, TypeNumber, q.Aggregate.TargetType)
	require.Len(t, q.Aggregate.GroupBy, 1)
	assert.Equal(t, "status", q.Aggregate.GroupBy[0].String())
}

func TestValidate_GroupByNone(t *testing.T) {
	res := testResource(t, true)
	q, err := validate(t, res, "aggregate=sum::total&groupby=none")
	require.NoError(t, err)
	assert.Empty(t, q.Aggregate.GroupBy)
}

func TestValidate_AggregateFaults(t *testing.T) {
	res := testResource(t, true)

	testCases := []struct {
		name  string
		query string
		code  string
	}{
		{"unknown_function", "aggregate=median::total", ErrCodeBadAggregate},
		{"sum_without_target", "aggregate=sum::", ErrCodeBadAggregate},
		{"sum_of_string_path", "aggregate=sum::name", ErrCodeTypeMismatch},
		{"groupby_without_aggregate", "groupby=status", ErrCodeBadAggregate},
		{"aggregate_with_select", "aggregate=count::&select=name", ErrCodeBadAggregate},
		{"duplicate_aggregate", "aggregate=count::&aggregate=sum::total", ErrCodeDuplicateClause},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validate(t, res, tc.query)
			requireValidationCode(t, err, tc.code)
		})
	}
}

func TestValidate_AggregateExcludesCursor(t *testing.T) {
	res := testResource(t, true)
	cur := &Cursor{ID: 1}
	_, err := validate(t, res, "aggregate=count::&cursor="+cur.Encode())
	requireValidationCode(t, err, ErrCodeBadAggregate)
}

func TestValidate_Projection(t *testing.T) {
	res := testResource(t, true)

	q, err := validate(t, res, "select=name,age")
	require.NoError(t, err)
	require.Len(t, q.Projection, 2)
	assert.Equal(t, "name", q.Projection[0].String())

	_, err = validate(t, res, "select=name&select=age")
	requireValidationCode(t, err, ErrCodeDuplicateClause)
}

func TestValidate_TargetCarriesResourceMetadata(t *testing.T) {
	res, err := resource.New(resource.Config{Name: "orders", SoftDelete: true})
	require.NoError(t, err)

	q, verr := validate(t, res, "")
	require.NoError(t, verr)
	assert.Equal(t, "orders", q.Target.Resource)
	assert.Equal(t, "orders", q.Target.Table)
	assert.True(t, q.Target.SoftDelete)
}
