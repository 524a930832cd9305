package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docq/docq/internal/query"
	"github.com/docq/docq/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	MaxLimit int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <resource> <query-string>",
		Short: "Run a structured query against a resource",
		Long: `Run a structured query against a resource.

The query string uses URL syntax: filter clauses are path=operator::operand,
with order, limit, offset, cursor, select, aggregate and groupby as reserved
keys.

Example:
  docq query --db app.db --resources resources.cue orders 'status=eq::open&order=desc::total&limit=20'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxLimit, "max-limit", query.DefaultLimits.MaxLimit, "largest accepted page size")

	return cmd
}

func runQuery(opts *QueryOptions, resourceName, rawQuery string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.lookupResource(resourceName)
	if err != nil {
		return err
	}

	clauses, err := query.Parse(rawQuery)
	if err != nil {
		return reportError(formatter, err)
	}
	q, err := query.Validate(res, clauses, query.Limits{MaxLimit: opts.MaxLimit})
	if err != nil {
		return reportError(formatter, err)
	}

	exec := store.NewExecutor(e.store)
	page, err := exec.Run(cmd.Context(), q)
	if err != nil {
		return reportError(formatter, err)
	}

	if opts.Format == "json" {
		return formatter.Success(page)
	}
	for _, item := range page.Items {
		line, _ := json.Marshal(item)
		fmt.Fprintln(cmd.OutOrStdout(), string(line))
	}
	if page.NextCursor != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "next cursor: %s\n", page.NextCursor)
	}
	return nil
}
