package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docq/docq/internal/resource"
	"github.com/docq/docq/internal/store"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Database  string
	Resources string
	Verbose   bool
	Format    string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the docq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "docq",
		Short: "Query and mutate JSON document resources",
		Long: `docq stores JSON documents in SQLite tables and answers structured
queries written as URL-style query strings. Every mutation is recorded
in an append-only audit log.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.Resources, "resources", "", "path to CUE resource definitions (required)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewResourcesCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// env bundles the opened store and the loaded resource registry for one
// command invocation.
type env struct {
	store    *store.Store
	registry *resource.Registry
}

// openEnv loads the resource definitions, opens the database, and ensures a
// table exists for every registered resource. The caller closes the store.
func openEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	if opts.Database == "" {
		return nil, WrapExitError(ExitCommandError, "missing required flag --db", nil)
	}
	if opts.Resources == "" {
		return nil, WrapExitError(ExitCommandError, "missing required flag --resources", nil)
	}

	registry, err := resource.Load(opts.Resources)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load resource definitions", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	for _, res := range registry.All() {
		if err := st.EnsureResource(cmd.Context(), res); err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to prepare resource tables", err)
		}
	}

	return &env{store: st, registry: registry}, nil
}

func (e *env) close() {
	_ = e.store.Close()
}

// lookupResource resolves a resource name or fails with a command error.
func (e *env) lookupResource(name string) (*resource.Resource, error) {
	res, ok := e.registry.Lookup(name)
	if !ok {
		return nil, WrapExitError(ExitFailure,
			fmt.Sprintf("unknown resource %q (known: %v)", name, e.registry.Names()), nil)
	}
	return res, nil
}

// newFormatter builds the per-command output formatter.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
