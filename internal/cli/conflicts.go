package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	Status string
	Limit  int
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List conflicts awaiting resolution",
		Long: `List conflicts in the ledger, oldest first.

Examples:
  syncledger pending --db ./ledger.db
  syncledger pending --status failed
  syncledger pending --status all --limit 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", string(ledger.ConflictPending), "conflict status to list (pending|resolved|failed|all)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of conflicts (0 for all)")

	return cmd
}

func runPending(cmd *cobra.Command, opts *PendingOptions) error {
	ctx := cmd.Context()
	out := output{format: opts.Format, w: cmd.OutOrStdout()}

	var status ledger.ConflictStatus
	switch opts.Status {
	case "all", "":
	case string(ledger.ConflictPending), string(ledger.ConflictResolved), string(ledger.ConflictFailed):
		status = ledger.ConflictStatus(opts.Status)
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", opts.Status))
	}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	conflicts, err := a.svc.GetConflicts(ctx, status, opts.Limit)
	if err != nil {
		return out.fail(ExitCommandError, "failed to list conflicts", err)
	}

	if out.json() {
		views := make([]ConflictView, 0, len(conflicts))
		for _, c := range conflicts {
			views = append(views, newConflictView(c, false))
		}
		return out.data(views)
	}

	if len(conflicts) == 0 {
		out.printf("No conflicts found.\n")
		return nil
	}
	out.printf("%s\n", colorHeader(fmt.Sprintf("%-36s  %-8s  %-20s  %-9s  %s", "ID", "TYPE", "RECORD", "STATUS", "CHANGED")))
	for _, c := range conflicts {
		out.printf("%-36s  %-8s  %-20s  %-9s  %s\n",
			colorID(c.ID), c.Type, c.RecordID, colorStatus(string(c.Status)),
			colorDim(strings.Join(c.ChangedFields, ",")))
	}
	return nil
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conflict-id>",
		Short: "Show a conflict with its local, remote and merged versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), cmd, rootOpts, args[0])
		},
	}
}

func runShow(ctx context.Context, cmd *cobra.Command, opts *RootOptions, id string) error {
	out := output{format: opts.Format, w: cmd.OutOrStdout()}

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	c, ok, err := a.svc.GetConflictDetails(ctx, id)
	if err != nil {
		return out.fail(ExitCommandError, "failed to load conflict", err)
	}
	if !ok {
		return out.fail(ExitFailure, "conflict not found", fmt.Errorf("no conflict with id %s", id))
	}

	v := newConflictView(c, true)
	if out.json() {
		return out.data(v)
	}

	out.printf("%s %s\n", colorHeader("Conflict"), colorID(v.ID))
	out.printf("  type:       %s\n", v.Type)
	out.printf("  record:     %s\n", v.RecordID)
	out.printf("  status:     %s\n", colorStatus(v.Status))
	if v.Resolution != "" {
		out.printf("  resolution: %s\n", v.Resolution)
	}
	if len(v.ChangedFields) > 0 {
		out.printf("  changed:    %s\n", strings.Join(v.ChangedFields, ", "))
	}
	if v.LastError != "" {
		out.printf("  last error: %s\n", colorFailed(v.LastError))
	}
	if v.NeedsReview {
		out.printf("  review:     %s\n", colorPending("detection failed; resolve with syncledger choose"))
	}
	out.printf("  recorded:   %s\n", v.Timestamp.Format("2006-01-02 15:04:05Z07:00"))
	out.printf("  local:      %s\n", orNone(v.Local))
	out.printf("  remote:     %s\n", orNone(v.Remote))
	if v.Merged != nil {
		out.printf("  merged:     %s\n", v.Merged)
	}
	return nil
}

func orNone(raw []byte) string {
	if len(raw) == 0 {
		return colorDim("(none)")
	}
	return string(raw)
}
