package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/detect"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// DetectOptions holds flags for the detect command.
type DetectOptions struct {
	*RootOptions
	Type     string
	RecordID string
}

// DetectView is the JSON form of a detection result.
type DetectView struct {
	Outcome       string        `json:"outcome"`
	ChangedFields []string      `json:"changed_fields,omitempty"`
	Error         string        `json:"error,omitempty"`
	Conflict      *ConflictView `json:"conflict,omitempty"`
}

// NewDetectCommand creates the detect command.
func NewDetectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DetectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "detect <local.json> <remote.json>",
		Short: "Compare a local and a remote version of a record",
		Long: `Compare two JSON snapshots of a record with the type's detection rules.

With --record the comparison is made against the ledger and a pending
conflict is recorded when the versions diverge.

Exit codes:
  0 - No conflict, or conflict recorded
  1 - Versions conflict (without --record) or detection failed
  2 - Command error

Examples:
  syncledger detect --type post local.json remote.json
  syncledger detect --type profile --record u42 local.json remote.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "record type (post|message|profile|media)")
	cmd.Flags().StringVar(&opts.RecordID, "record", "", "record id; records a conflict in the ledger")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runDetect(cmd *cobra.Command, opts *DetectOptions, localPath, remotePath string) error {
	ctx := cmd.Context()
	out := output{format: opts.Format, w: cmd.OutOrStdout()}

	t, err := record.ParseType(opts.Type)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid record type", err)
	}
	localJSON, err := os.ReadFile(localPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read local version", err)
	}
	remoteJSON, err := os.ReadFile(remotePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read remote version", err)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	detector := detect.New(detect.WithTimestampTolerance(cfg.Detection.TimestampTolerance.Std()))

	res := detector.DetectJSON(localJSON, remoteJSON, t)
	v := DetectView{Outcome: res.Outcome.String(), ChangedFields: res.ChangedFields}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}

	if opts.RecordID != "" && res.Outcome != detect.DetectionError {
		local, _ := record.Decode(t, localJSON)
		remote, _ := record.Decode(t, remoteJSON)

		a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.svc.RecordConflict(ctx, opts.RecordID, local, remote, t)
		if err != nil {
			return out.fail(ExitFailure, "failed to record conflict", err)
		}
		if c != nil {
			cv := newConflictView(c, false)
			v.Conflict = &cv
		}
	}

	if out.json() {
		if err := out.data(v); err != nil {
			return err
		}
	} else {
		switch res.Outcome {
		case detect.NoConflict:
			out.printf("%s no conflict\n", colorOK("✓"))
		case detect.Conflict:
			out.printf("%s conflict in %v\n", colorPending("!"), res.ChangedFields)
			if v.Conflict != nil {
				out.printf("  recorded as %s\n", colorID(v.Conflict.ID))
			}
		default:
			out.printf("%s detection failed: %s\n", colorFailed("✗"), v.Error)
		}
	}

	switch {
	case res.Outcome == detect.DetectionError:
		return NewExitError(ExitFailure, fmt.Sprintf("detection failed: %v", res.Err))
	case res.Outcome == detect.Conflict && v.Conflict == nil:
		return NewExitError(ExitFailure, "versions conflict")
	}
	return nil
}
