package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docq/docq/internal/query"
	"github.com/docq/docq/internal/resource"
)

var peopleConfig = resource.Config{
	Name: "people",
	Paths: map[string]string{
		"name":   "string",
		"age":    "number",
		"total":  "number",
		"status": "string",
	},
}

// runQuery parses, validates and executes a query string.
func runQuery(t *testing.T, s *Store, res *resource.Resource, raw string) *ResultPage {
	t.Helper()
	clauses, err := query.Parse(raw)
	require.NoError(t, err)
	q, err := query.Validate(res, clauses, query.DefaultLimits)
	require.NoError(t, err)

	page, err := NewExecutor(s).Run(context.Background(), q)
	require.NoError(t, err)
	return page
}

func seedPeople(t *testing.T, s *Store, res *resource.Resource, docs ...string) {
	t.Helper()
	for _, doc := range docs {
		_, err := s.CreateRecord(context.Background(), res, []byte(doc))
		require.NoError(t, err)
	}
}

func names(items []map[string]any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item["name"].(string))
	}
	return out
}

func TestRun_FilterSortAndWindow(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"ada","age":36,"status":"active"}`,
		`{"name":"grace","age":45,"status":"active"}`,
		`{"name":"alan","age":41,"status":"retired"}`,
		`{"name":"edsger","age":72,"status":"active"}`,
	)

	page := runQuery(t, s, res, "status=eq::active&age=gt::40&order=desc::age&limit=10")
	assert.Equal(t, []string{"edsger", "grace"}, names(page.Items))

	// Fewer rows than the limit: traversal exhausted, no cursor.
	assert.Empty(t, page.NextCursor)
}

func TestRun_ExactlyFullFinalPageOmitsCursor(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"Ann","age":30}`,
		`{"name":"Bob","age":40}`,
	)

	first := runQuery(t, s, res, "age=gt::25&order=asc::age&limit=1")
	assert.Equal(t, []string{"Ann"}, names(first.Items))
	require.NotEmpty(t, first.NextCursor)

	// The last matching row fills the page exactly; the traversal still
	// ends here, so no resume token comes back.
	second := runQuery(t, s, res, "age=gt::25&order=asc::age&limit=1&cursor="+first.NextCursor)
	assert.Equal(t, []string{"Bob"}, names(second.Items))
	assert.Empty(t, second.NextCursor)
}

func TestRun_EqListMatchesAnyAndKeepsStorageOrder(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"ada","age":36}`,
		`{"name":"grace","age":45}`,
		`{"name":"alan","age":41}`,
	)

	page := runQuery(t, s, res, "name=eq::grace,ada")
	assert.Equal(t, []string{"ada", "grace"}, names(page.Items))
}

func TestRun_ILikeIgnoresCase(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"Grace"}`,
		`{"name":"grete"}`,
		`{"name":"alan"}`,
	)

	page := runQuery(t, s, res, "name=ilike::GR*&order=asc::name")
	assert.Equal(t, []string{"Grace", "grete"}, names(page.Items))
}

func TestRun_OffsetPagination(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"a","age":1}`, `{"name":"b","age":2}`,
		`{"name":"c","age":3}`, `{"name":"d","age":4}`,
	)

	page := runQuery(t, s, res, "order=asc::age&limit=2&offset=1")
	assert.Equal(t, []string{"b", "c"}, names(page.Items))
}

func TestRun_CursorTraversalIsCompleteUnderInsertion(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	for i := 1; i <= 5; i++ {
		seedPeople(t, s, res, fmt.Sprintf(`{"name":"p%d","age":%d}`, i, i))
	}

	first := runQuery(t, s, res, "order=asc::age&limit=2")
	assert.Equal(t, []string{"p1", "p2"}, names(first.Items))
	require.NotEmpty(t, first.NextCursor)

	// A row landing before the cursor position must not disturb the
	// remainder of the traversal.
	seedPeople(t, s, res, `{"name":"p0","age":0}`)

	var got []string
	cursor := first.NextCursor
	for cursor != "" {
		page := runQuery(t, s, res, "order=asc::age&limit=2&cursor="+cursor)
		got = append(got, names(page.Items)...)
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"p3", "p4", "p5"}, got)
}

func TestRun_CursorResumeIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	for i := 1; i <= 4; i++ {
		seedPeople(t, s, res, fmt.Sprintf(`{"name":"p%d","age":%d}`, i, i))
	}

	first := runQuery(t, s, res, "order=asc::age&limit=2")
	require.NotEmpty(t, first.NextCursor)

	resume := "order=asc::age&limit=2&cursor=" + first.NextCursor
	once := runQuery(t, s, res, resume)
	twice := runQuery(t, s, res, resume)
	assert.Equal(t, once.Items, twice.Items)
}

func TestRun_TiebreakerMakesOrderTotal(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"x","age":30}`, `{"name":"y","age":30}`, `{"name":"z","age":30}`,
	)

	// Equal sort keys page deterministically by insertion id.
	first := runQuery(t, s, res, "order=asc::age&limit=2")
	require.NotEmpty(t, first.NextCursor)
	rest := runQuery(t, s, res, "order=asc::age&limit=2&cursor="+first.NextCursor)

	assert.Equal(t, []string{"x", "y"}, names(first.Items))
	assert.Equal(t, []string{"z"}, names(rest.Items))
}

func TestRun_Projection(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res, `{"name":"ada","age":36,"address":{"city":"london","zip":"n1"}}`)

	page := runQuery(t, s, res, "select=name,address.city")
	require.Len(t, page.Items, 1)
	assert.Equal(t, map[string]any{
		"name":    "ada",
		"address": map[string]any{"city": "london"},
	}, page.Items[0])
}

func TestRun_ProjectionSkipsAbsentPaths(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res, `{"name":"ada"}`)

	page := runQuery(t, s, res, "select=name,address.city")
	require.Len(t, page.Items, 1)
	assert.Equal(t, map[string]any{"name": "ada"}, page.Items[0])
}

func TestRun_AggregateSum(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"a","total":10}`, `{"name":"b","total":25}`, `{"name":"c","total":35}`,
	)

	page := runQuery(t, s, res, "aggregate=sum::total")
	require.Len(t, page.Items, 1)
	assert.Equal(t, map[string]any{"sum": 70.0}, page.Items[0])
	assert.Empty(t, page.NextCursor)
}

func TestRun_UngroupedAggregateOverNoRowsIsNull(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res, `{"name":"a","total":10}`)

	// SUM over an empty set is SQL NULL, surfaced as an explicit nil.
	page := runQuery(t, s, res, "total=gt::100&aggregate=sum::total")
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0]["sum"])
}

func TestRun_AggregateCountWithFilter(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"a","status":"open"}`, `{"name":"b","status":"open"}`, `{"name":"c","status":"closed"}`,
	)

	page := runQuery(t, s, res, "status=eq::open&aggregate=count::")
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(2), page.Items[0]["count"])
}

func TestRun_AggregateGrouped(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"status":"closed","total":5}`,
		`{"status":"open","total":10}`,
		`{"status":"open","total":25}`,
	)

	page := runQuery(t, s, res, "aggregate=sum::total&groupby=status")
	require.Len(t, page.Items, 2)

	// Groups come back ordered by group key.
	assert.Equal(t, map[string]any{"status": "closed"}, page.Items[0]["group"])
	assert.Equal(t, 5.0, page.Items[0]["sum"])
	assert.Equal(t, map[string]any{"status": "open"}, page.Items[1]["group"])
	assert.Equal(t, 35.0, page.Items[1]["sum"])
}

func TestRun_SoftDeletedRowsInvisible(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, resource.Config{
		Name:       "orders",
		SoftDelete: true,
		Paths:      map[string]string{"total": "number"},
	})
	ctx := context.Background()

	kept, err := s.CreateRecord(ctx, res, []byte(`{"total":1}`))
	require.NoError(t, err)
	gone, err := s.CreateRecord(ctx, res, []byte(`{"total":2}`))
	require.NoError(t, err)
	require.NoError(t, s.DeleteRecord(ctx, res, gone.ID))

	page := runQuery(t, s, res, "")
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1.0, page.Items[0]["total"])
	_ = kept

	agg := runQuery(t, s, res, "aggregate=count::")
	assert.Equal(t, int64(1), agg.Items[0]["count"])
}

func TestRun_HostileOperandStaysInert(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res, `{"name":"ada"}`)

	page := runQuery(t, s, res, "name=eq::x%27%3B%20DROP%20TABLE%20people--")
	assert.Empty(t, page.Items)

	// Table intact.
	after := runQuery(t, s, res, "")
	assert.Len(t, after.Items, 1)
}

func TestRun_EmptyResultSet(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)

	page := runQuery(t, s, res, "age=gt::100")
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)
}

func TestRun_ContainsOverArray(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, peopleConfig)
	seedPeople(t, s, res,
		`{"name":"ada","tags":["math","pioneer"]}`,
		`{"name":"alan","tags":["logic"]}`,
	)

	page := runQuery(t, s, res, "tags=contains::math")
	assert.Equal(t, []string{"ada"}, names(page.Items))
}
