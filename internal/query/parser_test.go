package query

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse_Empty(t *testing.T) {
	for _, raw := range []string{"", "?"} {
		clauses, err := Parse(raw)
		require.NoError(t, err)
		assert.Empty(t, clauses)
	}
}

func TestParse_FilterClause(t *testing.T) {
	clauses, err := Parse("status=eq::open")
	require.NoError(t, err)
	require.Len(t, clauses, 1)

	assert.Equal(t, KindFilter, clauses[0].Kind)
	assert.Equal(t, "status", clauses[0].Key)
	assert.Equal(t, "eq", clauses[0].Op)
	assert.Equal(t, []string{"open"}, clauses[0].Operands)
	assert.Equal(t, "status=eq::open", clauses[0].Raw)
}

func TestParse_ZeroArityOperator(t *testing.T) {
	clauses, err := Parse("deleted=is-null::")
	require.NoError(t, err)
	require.Len(t, clauses, 1)

	assert.Equal(t, "is-null", clauses[0].Op)
	assert.Empty(t, clauses[0].Operands)
}

func TestParse_MissingSeparator(t *testing.T) {
	_, err := Parse("status=open")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeMissingSeparator, pe.Code)
	assert.Equal(t, "status=open", pe.Clause)
}

func TestParse_OperandListSplitsBeforeDecoding(t *testing.T) {
	// A literal comma must arrive as %2C; the bare comma is the list
	// separator and is consumed before percent-decoding.
	clauses, err := Parse("tag=in::a%2Cb,c")
	require.NoError(t, err)
	require.Len(t, clauses, 1)
	assert.Equal(t, []string{"a,b", "c"}, clauses[0].Operands)
}

func TestParse_NFCNormalization(t *testing.T) {
	// "Cafe" + combining acute accent normalizes to precomposed form.
	clauses, err := Parse("name=eq::Cafe%CC%81")
	require.NoError(t, err)
	require.Len(t, clauses, 1)
	assert.Equal(t, "Café", clauses[0].Operands[0])
}

func TestParse_EmptyClauseRejected(t *testing.T) {
	_, err := Parse("a=eq::1&&b=eq::2")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeEmptyClause, pe.Code)
}

func TestParse_BadEscape(t *testing.T) {
	_, err := Parse("name=eq::%zz")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeBadEscape, pe.Code)
}

func TestParse_ReservedKeys(t *testing.T) {
	testCases := []struct {
		raw  string
		kind ClauseKind
	}{
		{"order=desc::total", KindSort},
		{"limit=20", KindLimit},
		{"offset=40", KindOffset},
		{"cursor=abc", KindCursor},
		{"select=name,age", KindSelect},
		{"aggregate=count::", KindAggregate},
		{"groupby=status", KindGroupBy},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			clauses, err := Parse(tc.raw)
			require.NoError(t, err)
			require.Len(t, clauses, 1)
			assert.Equal(t, tc.kind, clauses[0].Kind)
		})
	}
}

func TestParse_SortClauseShape(t *testing.T) {
	clauses, err := Parse("order=desc::total,created")
	require.NoError(t, err)
	require.Len(t, clauses, 1)

	assert.Equal(t, KindSort, clauses[0].Kind)
	assert.Equal(t, "desc", clauses[0].Op)
	assert.Equal(t, []string{"total", "created"}, clauses[0].Operands)
}

func TestParse_WholeQueryAbortsOnOneBadClause(t *testing.T) {
	// No partial clause list survives a lexical fault.
	clauses, err := Parse("status=eq::open&broken")
	require.Error(t, err)
	assert.Nil(t, clauses)
}

// parseScenario is one fixture entry in testdata/parse_scenarios.yaml.
type parseScenario struct {
	Name    string `yaml:"name"`
	Query   string `yaml:"query"`
	Error   string `yaml:"error,omitempty"`
	Clauses []struct {
		Kind     string   `yaml:"kind"`
		Key      string   `yaml:"key"`
		Op       string   `yaml:"op,omitempty"`
		Operands []string `yaml:"operands,omitempty"`
	} `yaml:"clauses,omitempty"`
}

func TestParse_Scenarios(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "parse_scenarios.yaml"))
	require.NoError(t, err)

	var scenarios []parseScenario
	require.NoError(t, yaml.Unmarshal(data, &scenarios))
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			clauses, err := Parse(sc.Query)

			if sc.Error != "" {
				require.Error(t, err)
				var pe *ParseError
				require.True(t, errors.As(err, &pe), "expected a parse error, got %v", err)
				assert.Equal(t, sc.Error, pe.Code)
				return
			}

			require.NoError(t, err)
			require.Len(t, clauses, len(sc.Clauses))
			for i, want := range sc.Clauses {
				got := clauses[i]
				assert.Equal(t, want.Kind, got.Kind.String(), "clause %d kind", i)
				assert.Equal(t, want.Key, got.Key, "clause %d key", i)
				assert.Equal(t, want.Op, got.Op, "clause %d op", i)
				if want.Operands != nil {
					assert.Equal(t, want.Operands, got.Operands, "clause %d operands", i)
				}
			}
		})
	}
}
