package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docq/docq/internal/resource"
)

// ResourcesOptions holds flags for the resources command.
type ResourcesOptions struct {
	*RootOptions
}

// resourceSummary is the listing entry for one resource.
type resourceSummary struct {
	Name         string            `json:"name"`
	Table        string            `json:"table"`
	SoftDelete   bool              `json:"softDelete"`
	EnforcePaths bool              `json:"enforcePaths"`
	Paths        map[string]string `json:"paths,omitempty"`
	HasSchema    bool              `json:"hasSchema"`
}

// NewResourcesCommand creates the resources command.
func NewResourcesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResourcesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List the configured resources",
		Long: `Load the CUE resource definitions and list each resource with its
table, declared paths, and flags. Useful for checking a definitions file
before pointing commands at it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResources(opts, cmd)
		},
	}

	return cmd
}

func runResources(opts *ResourcesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	if opts.Resources == "" {
		return WrapExitError(ExitCommandError, "missing required flag --resources", nil)
	}
	registry, err := resource.Load(opts.Resources)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load resource definitions", err)
	}

	summaries := make([]resourceSummary, 0, len(registry.Names()))
	for _, res := range registry.All() {
		summaries = append(summaries, resourceSummary{
			Name:         res.Name,
			Table:        res.Table,
			SoftDelete:   res.SoftDelete,
			EnforcePaths: res.EnforcePaths,
			Paths:        res.DeclaredPaths(),
			HasSchema:    res.HasSchema(),
		})
	}

	if opts.Format == "json" {
		return formatter.Success(summaries)
	}
	for _, s := range summaries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\ttable=%s\tsoftDelete=%v\tenforcePaths=%v\tpaths=%d\n",
			s.Name, s.Table, s.SoftDelete, s.EnforcePaths, len(s.Paths))
	}
	return nil
}
