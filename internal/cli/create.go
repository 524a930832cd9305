package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	File string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <resource> [json]",
		Short: "Insert a new document",
		Long: `Insert a new JSON document into a resource.

The payload comes from the positional argument, from --file, or from stdin
when neither is given. It is validated against the resource's schema before
anything is written, and the insert commits together with its audit event.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the payload from a file")

	return cmd
}

func runCreate(opts *CreateOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	payload, err := readPayload(opts.File, args, 1, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
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

	rec, err := e.store.CreateRecord(cmd.Context(), res, payload)
	if err != nil {
		return reportError(formatter, err)
	}

	formatter.VerboseLog("created %s/%d", res.Name, rec.ID)
	if opts.Format == "json" {
		return formatter.Success(rec)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s/%d\n", res.Name, rec.ID)
	return nil
}

// readPayload resolves the mutation payload from the file flag, a positional
// argument, or stdin, in that order of precedence.
func readPayload(file string, args []string, pos int, stdin io.Reader) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	if len(args) > pos {
		return []byte(args[pos]), nil
	}
	return io.ReadAll(stdin)
}
