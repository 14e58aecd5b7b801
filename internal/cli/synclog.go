package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/metrics"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/syncqueue"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Limit int
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the sync log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output{format: opts.Format, w: cmd.OutOrStdout()}

			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.svc.GetSyncLog(ctx, opts.Limit)
			if err != nil {
				return out.fail(ExitCommandError, "failed to read sync log", err)
			}

			views := make([]SyncEntryView, 0, len(entries))
			for _, e := range entries {
				views = append(views, newSyncEntryView(e))
			}
			if out.json() {
				return out.data(views)
			}

			if len(views) == 0 {
				out.printf("Sync log is empty.\n")
				return nil
			}
			out.printf("%s\n", colorHeader(fmt.Sprintf("%-36s  %-6s  %-8s  %-20s  %-9s  %s", "ID", "OP", "TYPE", "RECORD", "STATUS", "RETRIES")))
			for _, v := range views {
				out.printf("%-36s  %-6s  %-8s  %-20s  %-9s  %d\n",
					colorID(v.ID), v.Operation, v.Type, v.RecordID, colorStatus(v.Status), v.RetryCount)
				if v.Error != "" && opts.Verbose {
					out.printf("    %s\n", colorDim(v.Error))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of entries (0 for all)")

	return cmd
}

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	RetryFailed bool
	Watch       bool
	MetricsAddr string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay pending sync entries that are due",
		Long: `Run one replay pass of the sync queue against the configured remote.

With --watch the replay loop keeps running on the configured queue interval
until interrupted, optionally serving counters as JSON on --metrics-addr.

Exit codes:
  0 - Pass completed (entries may still be pending)
  1 - One or more entries failed permanently
  2 - Command error

Examples:
  syncledger replay --retry-failed
  syncledger replay --watch --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output{format: opts.Format, w: cmd.OutOrStdout()}
			if opts.MetricsAddr != "" && !opts.Watch {
				return NewExitError(ExitCommandError, "--metrics-addr requires --watch")
			}

			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if opts.RetryFailed {
				n, err := a.svc.Queue().RetryFailed(ctx)
				if err != nil {
					return out.fail(ExitCommandError, "failed to resurface failed entries", err)
				}
				if !out.json() && n > 0 {
					out.printf("resurfaced %d failed entries\n", n)
				}
			}

			var res syncqueue.ReplayResult
			err = a.logger.LogOperation(ctx, logging.Operation("replay"), logging.Component("cli"), func() error {
				var err error
				res, err = a.svc.ReplayPending(ctx)
				return err
			})
			if err != nil {
				return out.fail(ExitCommandError, "replay failed", err)
			}
			if out.json() {
				if err := out.data(res); err != nil {
					return err
				}
			} else {
				out.printf("attempted %d, completed %s, retrying %s, failed %s\n",
					res.Attempted, colorOK(res.Completed), colorPending(res.Retried), colorFailed(res.Failed))
			}
			if opts.Watch {
				return runWatch(ctx, out, opts, a)
			}
			if res.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d sync entries failed permanently", res.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.RetryFailed, "retry-failed", false, "resurface failed entries before replaying")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep replaying on the queue interval until interrupted")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics at http://ADDR/metrics while watching")

	return cmd
}

// runWatch runs the replay loop until ctx is done.
func runWatch(ctx context.Context, out output, opts *ReplayOptions, a *app) error {
	if opts.MetricsAddr != "" {
		ln, err := net.Listen("tcp", opts.MetricsAddr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		srv := &http.Server{Handler: metricsHandler(a.metrics), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.LogError(ctx, err, "metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.LogError(ctx, err, "metrics server shutdown failed")
			}
		}()
		if !out.json() {
			out.printf("serving metrics on http://%s/metrics\n", ln.Addr())
		}
	}

	if err := a.svc.Start(ctx); err != nil {
		return out.fail(ExitCommandError, "failed to start replay loop", err)
	}
	if !out.json() {
		out.printf("replaying every %s until interrupted\n", a.cfg.Queue.Interval)
	}
	<-ctx.Done()
	return nil
}

func metricsHandler(m *metrics.Memory) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m)
	return mux
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Resurface a failed sync entry for replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output{format: rootOpts.Format, w: cmd.OutOrStdout()}

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.svc.RetrySync(ctx, args[0])
			if err != nil {
				return out.fail(ExitFailure, "failed to retry sync entry", err)
			}
			if out.json() {
				return out.data(newSyncEntryView(e))
			}
			out.printf("%s %s is pending again\n", colorOK("✓"), colorID(e.ID))
			return nil
		},
	}
}
