package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	RecordID int64
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit <resource> [id]",
		Short: "Show the audit trail for a resource",
		Long: `Show the audit trail for a resource in commit order. With an id the
trail is narrowed to that record.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				id, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("invalid record id %q", args[1]), err)
				}
				opts.RecordID = id
			}
			return runAudit(opts, args[0], cmd)
		},
	}

	return cmd
}

func runAudit(opts *AuditOptions, resourceName string, cmd *cobra.Command) error {
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

	events, err := e.store.AuditTrail(cmd.Context(), res.Name, opts.RecordID)
	if err != nil {
		return reportError(formatter, err)
	}

	if opts.Format == "json" {
		return formatter.Success(events)
	}
	for _, ev := range events {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s/%d\t%s\t%s\n",
			ev.Seq, ev.CreatedAt, ev.Resource, ev.RecordID, ev.Op, ev.EventID)
	}
	return nil
}
