package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			RunWithGolden(t, sc)
		})
	}
}

func TestLoadScenarios_RejectsNameless(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "query: \"limit=1\"\n")

	_, err := LoadScenarios(dir)
	assert.Error(t, err)
}

func TestLoadScenarios_EmptyDirIsEmptySuite(t *testing.T) {
	scenarios, err := LoadScenarios(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, scenarios)
}

func TestRun_ReturnsShapedPage(t *testing.T) {
	sc := Scenario{
		Name:     "inline",
		Resource: ResourceDef{Name: "people", Paths: map[string]string{"age": "number"}},
		Seed: []map[string]any{
			{"name": "ada", "age": 36},
			{"name": "grace", "age": 45},
		},
		Query: "age=gt::40",
	}

	page := Run(t, sc)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "grace", page.Items[0]["name"])
}
