package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/strategy"
)

// NewStrategyCommand creates the strategy command group.
func NewStrategyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Inspect and change merge strategies",
	}
	cmd.AddCommand(newStrategyListCommand(rootOpts))
	cmd.AddCommand(newStrategySetCommand(rootOpts))
	return cmd
}

func newStrategyListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the merge strategy bound to each record type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output{format: opts.Format, w: cmd.OutOrStdout()}

			a, err := openApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			bindings := a.svc.Strategies()
			types := make([]record.Type, 0, len(bindings))
			for t := range bindings {
				types = append(types, t)
			}
			sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

			views := make([]StrategyView, 0, len(types))
			for _, t := range types {
				views = append(views, newStrategyView(t, bindings[t]))
			}
			if out.json() {
				return out.data(views)
			}

			out.printf("%s\n", colorHeader(fmt.Sprintf("%-8s  %-12s  %s", "TYPE", "STRATEGY", "RESOLVER")))
			for _, v := range views {
				out.printf("%-8s  %-12s  %s\n", v.Type, v.Strategy, colorDim(v.Resolver))
			}
			return nil
		},
	}
}

// StrategySetOptions holds flags for strategy set.
type StrategySetOptions struct {
	*RootOptions
	Resolver string
}

func newStrategySetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StrategySetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <type> <strategy>",
		Short: "Bind a merge strategy to a record type",
		Long: `Bind a merge strategy to a record type.

Strategies: local-wins, remote-wins, manual, custom. Custom uses the type's
built-in resolver (post-merge, profile-merge) unless --resolver names one.

Examples:
  syncledger strategy set message local-wins
  syncledger strategy set post custom --resolver post-merge`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output{format: opts.Format, w: cmd.OutOrStdout()}

			t, err := record.ParseType(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid record type", err)
			}
			kind, err := strategy.ParseKind(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid strategy", err)
			}
			if opts.Resolver != "" && kind != strategy.Custom {
				return NewExitError(ExitCommandError, "--resolver only applies to the custom strategy")
			}

			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if opts.Resolver != "" {
				err = a.svc.SetCustomResolver(ctx, t, opts.Resolver)
			} else {
				err = a.svc.SetMergeStrategy(ctx, t, kind)
			}
			if err != nil {
				return out.fail(ExitFailure, "failed to set merge strategy", err)
			}

			b, _ := a.svc.Registry().Lookup(t)
			v := newStrategyView(t, b)
			if out.json() {
				return out.data(v)
			}
			out.printf("%s %s now uses %s\n", colorOK("✓"), v.Type, v.Strategy)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Resolver, "resolver", "", "custom resolver name")

	return cmd
}
