package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/docq/docq/internal/store"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	File        string
	Mode        string
	IfUnchanged string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <resource> <id> [json]",
		Short: "Rewrite an existing document",
		Long: `Rewrite an existing document, either replacing it wholesale or merging
the payload into it as an RFC 7386 merge patch.

With --if-unchanged, the update only applies while the record's updated_at
still matches; a stale value fails with a conflict instead of overwriting
someone else's write.`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the payload from a file")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(store.MergeReplace), "update mode (replace|merge)")
	cmd.Flags().StringVar(&opts.IfUnchanged, "if-unchanged", "", "require updated_at to match before writing")

	return cmd
}

func runUpdate(opts *UpdateOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid record id %q", args[1]), err)
	}

	mode := store.MergeMode(opts.Mode)
	if mode != store.MergeReplace && mode != store.MergeMerge {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be replace or merge", opts.Mode), nil)
	}

	payload, err := readPayload(opts.File, args, 2, cmd.InOrStdin())
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

	rec, err := e.store.UpdateRecord(cmd.Context(), res, id, payload, store.UpdateOptions{
		Mode:              mode,
		ExpectedUpdatedAt: opts.IfUnchanged,
	})
	if err != nil {
		return reportError(formatter, err)
	}

	if opts.Format == "json" {
		return formatter.Success(rec)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated %s/%d\n", res.Name, rec.ID)
	return nil
}
