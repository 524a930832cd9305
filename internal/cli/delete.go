package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <resource> <id>",
		Short: "Delete a document",
		Long: `Delete a document. Resources declared with softDelete keep the row and
hide it from queries; others remove it. Either way the document as it stood
is preserved in the audit log.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args, cmd)
		},
	}

	return cmd
}

func runDelete(opts *DeleteOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid record id %q", args[1]), err)
	}

	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.lookupResource(args[0])
	if err != nil {
		return err
	}

	if err := e.store.DeleteRecord(cmd.Context(), res, id); err != nil {
		return reportError(formatter, err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"resource": res.Name, "id": id, "deleted": true})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%d\n", res.Name, id)
	return nil
}
