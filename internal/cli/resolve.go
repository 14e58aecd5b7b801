package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/reconcile"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// ResolutionView is the JSON form of a resolution result.
type ResolutionView struct {
	Conflict   ConflictView   `json:"conflict"`
	Outcome    string         `json:"outcome"`
	Replicated bool           `json:"replicated"`
	Entry      *SyncEntryView `json:"sync_entry,omitempty"`
}

func newResolutionView(res reconcile.Result) ResolutionView {
	v := ResolutionView{
		Conflict:   newConflictView(res.Conflict, false),
		Outcome:    res.Outcome.String(),
		Replicated: res.Replicated,
	}
	if res.Entry != nil {
		e := newSyncEntryView(res.Entry)
		v.Entry = &e
	}
	return v
}

func printResolution(out output, res reconcile.Result) {
	c := res.Conflict
	switch res.Outcome {
	case reconcile.OutcomeAlreadyResolved:
		out.printf("%s %s was already resolved (%s)\n", colorDim("-"), colorID(c.ID), c.Resolution)
	case reconcile.OutcomeManual:
		out.printf("%s %s needs a manual decision: syncledger choose %s --use local|remote\n",
			colorStatus("manual"), colorID(c.ID), c.ID)
	default:
		replication := colorOK("replicated")
		if !res.Replicated {
			replication = colorPending("queued for replay")
		}
		out.printf("%s %s resolved with %s, %s\n", colorOK("✓"), colorID(c.ID), c.Resolution, replication)
	}
}

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	All bool
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve [conflict-id]",
		Short: "Resolve conflicts with their configured merge strategy",
		Long: `Resolve a conflict with the merge strategy bound to its record type and
replicate the result to the remote repository.

When the remote cannot be reached the resolution is kept and the write is
queued for "syncledger replay".

Examples:
  syncledger resolve 3f2c...
  syncledger resolve --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.All {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.All {
				return runResolveAll(cmd, opts)
			}
			return runResolve(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "resolve every pending conflict")

	return cmd
}

func runResolve(cmd *cobra.Command, opts *ResolveOptions, id string) error {
	ctx := cmd.Context()
	out := output{format: opts.Format, w: cmd.OutOrStdout()}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.ResolveConflict(ctx, id)
	if err != nil {
		return out.fail(ExitFailure, "failed to resolve conflict", err)
	}
	if out.json() {
		return out.data(newResolutionView(res))
	}
	printResolution(out, res)
	return nil
}

func runResolveAll(cmd *cobra.Command, opts *ResolveOptions) error {
	ctx := cmd.Context()
	out := output{format: opts.Format, w: cmd.OutOrStdout()}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.svc.AutoResolvePending(ctx)
	if out.json() && err == nil {
		return out.data(sum)
	}
	if err != nil {
		return out.fail(ExitFailure, fmt.Sprintf("%d of %d conflicts failed to resolve", sum.Failed, sum.Attempted), err)
	}
	out.printf("attempted %d, resolved %s, manual %s, queued %d\n",
		sum.Attempted, colorOK(sum.Resolved), colorPending(sum.Manual), sum.Unreplicated)
	return nil
}

// ChooseOptions holds flags for the choose command.
type ChooseOptions struct {
	*RootOptions
	Use    string
	Merged string
}

// NewChooseCommand creates the choose command.
func NewChooseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChooseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "choose <conflict-id>",
		Short: "Resolve a conflict by hand",
		Long: `Record a human decision for a pending or failed conflict.

Examples:
  syncledger choose 3f2c... --use local
  syncledger choose 3f2c... --use merged --merged ./fixed.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChoose(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Use, "use", "", "version to keep (local|remote|merged)")
	cmd.Flags().StringVar(&opts.Merged, "merged", "", "JSON file with the merged version, for --use merged")
	_ = cmd.MarkFlagRequired("use")

	return cmd
}

func runChoose(cmd *cobra.Command, opts *ChooseOptions, id string) error {
	ctx := cmd.Context()
	out := output{format: opts.Format, w: cmd.OutOrStdout()}

	resolution := ledger.Resolution(opts.Use)
	if !resolution.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --use %q: must be local, remote or merged", opts.Use))
	}
	if (resolution == ledger.ResolutionMerged) != (opts.Merged != "") {
		return NewExitError(ExitCommandError, "--merged is required with, and only with, --use merged")
	}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	var merged record.Payload
	if opts.Merged != "" {
		c, ok, err := a.svc.GetConflictDetails(ctx, id)
		if err != nil {
			return out.fail(ExitCommandError, "failed to load conflict", err)
		}
		if !ok {
			return out.fail(ExitFailure, "conflict not found", fmt.Errorf("no conflict with id %s", id))
		}
		data, err := os.ReadFile(opts.Merged)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read merged version", err)
		}
		if merged, err = record.Decode(c.Type, data); err != nil {
			return WrapExitError(ExitCommandError, "invalid merged version", err)
		}
	}

	res, err := a.svc.ResolveManually(ctx, id, resolution, merged)
	if err != nil {
		return out.fail(ExitFailure, "failed to resolve conflict", err)
	}
	if out.json() {
		return out.data(newResolutionView(res))
	}
	printResolution(out, res)
	return nil
}
