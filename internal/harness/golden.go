package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// resultSnapshot is the canonical serialized form of a scenario run.
// Map keys inside items serialize sorted, so snapshots are byte-stable.
type resultSnapshot struct {
	Scenario string           `json:"scenario"`
	Query    string           `json:"query"`
	Items    []map[string]any `json:"items"`
}

// RunWithGolden executes a scenario and compares the shaped result against
// testdata/golden/{scenario.Name}.golden.
//
// Regenerate goldens with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc Scenario) {
	t.Helper()

	page := Run(t, sc)
	snapshot := resultSnapshot{
		Scenario: sc.Name,
		Query:    sc.Query,
		Items:    page.Items,
	}
	// Encode without HTML escaping so query strings containing '&' match
	// the committed fixtures byte-for-byte.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	require.NoError(t, enc.Encode(snapshot))
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
}
