// Package harness runs declarative end-to-end query scenarios.
//
// A scenario is one YAML file: resource metadata, seed documents, optional
// deletions, and a query string. The harness seeds a throwaway store, runs
// the full parse/validate/compile/execute pipeline, and snapshots the shaped
// result for golden comparison. Scenarios double as executable documentation
// of the query grammar.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/docq/docq/internal/query"
	"github.com/docq/docq/internal/resource"
	"github.com/docq/docq/internal/store"
)

// Scenario is one declarative query test case.
type Scenario struct {
	// Name uniquely identifies the scenario; it is also the golden file name.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description,omitempty"`

	// Resource is the metadata the query runs against.
	Resource ResourceDef `yaml:"resource"`

	// Seed documents are inserted in order before the query runs, so the
	// n-th document gets record id n.
	Seed []map[string]any `yaml:"seed,omitempty"`

	// Delete removes the named record ids after seeding. Against a
	// soft-delete resource this hides rows instead of dropping them.
	Delete []int64 `yaml:"delete,omitempty"`

	// Query is the query string under test.
	Query string `yaml:"query"`
}

// ResourceDef is the scenario's inline resource definition.
type ResourceDef struct {
	Name         string            `yaml:"name"`
	SoftDelete   bool              `yaml:"softDelete,omitempty"`
	EnforcePaths bool              `yaml:"enforcePaths,omitempty"`
	Paths        map[string]string `yaml:"paths,omitempty"`
}

// LoadScenarios reads every *.yaml scenario in a directory, sorted by file
// name so the suite runs in a stable order.
func LoadScenarios(dir string) ([]Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	scenarios := make([]Scenario, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read scenario %s: %w", path, err)
		}
		var sc Scenario
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse scenario %s: %w", path, err)
		}
		if sc.Name == "" {
			return nil, fmt.Errorf("scenario %s has no name", path)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// Run seeds a fresh store and executes the scenario's query.
func Run(t *testing.T, sc Scenario) *store.ResultPage {
	t.Helper()

	res, err := resource.New(resource.Config{
		Name:         sc.Resource.Name,
		SoftDelete:   sc.Resource.SoftDelete,
		EnforcePaths: sc.Resource.EnforcePaths,
		Paths:        sc.Resource.Paths,
	})
	require.NoError(t, err, "scenario %s: resource definition", sc.Name)

	s, err := store.Open(filepath.Join(t.TempDir(), "scenario.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.EnsureResource(ctx, res))

	for i, doc := range sc.Seed {
		payload, err := json.Marshal(doc)
		require.NoError(t, err, "scenario %s: seed %d", sc.Name, i)
		_, err = s.CreateRecord(ctx, res, payload)
		require.NoError(t, err, "scenario %s: seed %d", sc.Name, i)
	}
	for _, id := range sc.Delete {
		require.NoError(t, s.DeleteRecord(ctx, res, id), "scenario %s: delete %d", sc.Name, id)
	}

	clauses, err := query.Parse(sc.Query)
	require.NoError(t, err, "scenario %s: parse", sc.Name)
	q, err := query.Validate(res, clauses, query.DefaultLimits)
	require.NoError(t, err, "scenario %s: validate", sc.Name)

	page, err := store.NewExecutor(s).Run(ctx, q)
	require.NoError(t, err, "scenario %s: execute", sc.Name)
	return page
}
