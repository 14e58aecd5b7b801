// Package detect decides whether a local and a remote snapshot of the same
// record diverge in a way that needs reconciliation.
package detect

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// DefaultTimestampTolerance absorbs clock skew between client and server.
const DefaultTimestampTolerance = time.Second

// Outcome is the tag of a detection Result.
type Outcome int

const (
	NoConflict Outcome = iota
	Conflict
	DetectionError
)

func (o Outcome) String() string {
	switch o {
	case NoConflict:
		return "no_conflict"
	case Conflict:
		return "conflict"
	case DetectionError:
		return "detection_error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the tagged outcome of comparing two versions.
type Result struct {
	Outcome Outcome

	// ChangedFields names the fields that diverged when Outcome is Conflict.
	ChangedFields []string

	// Err is set when Outcome is DetectionError.
	Err error
}

// IsConflict reports whether reconciliation is required.
func (r Result) IsConflict() bool { return r.Outcome == Conflict }

// Option configures a Detector.
type Option func(*Detector)

// WithTimestampTolerance sets how far post edit times may drift before they
// count as divergent.
func WithTimestampTolerance(d time.Duration) Option {
	return func(det *Detector) {
		if d >= 0 {
			det.tolerance = d
		}
	}
}

// WithLogger sets the logger used to report detection errors.
func WithLogger(l *logging.Logger) Option {
	return func(det *Detector) { det.logger = logging.OrDiscard(l) }
}

// Detector applies the per-type diff rules. Detection is pure: it performs
// no I/O and never panics on malformed input.
type Detector struct {
	tolerance time.Duration
	logger    *logging.Logger
}

// New creates a Detector.
func New(opts ...Option) *Detector {
	d := &Detector{
		tolerance: DefaultTimestampTolerance,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent(logging.Component("detect"))
	return d
}

// Tolerance returns the configured timestamp tolerance.
func (d *Detector) Tolerance() time.Duration { return d.tolerance }

// Detect compares local and remote snapshots of type t. An absent snapshot on
// either side is never a conflict.
func (d *Detector) Detect(local, remote record.Payload, t record.Type) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(fmt.Errorf("panic comparing %s versions: %v", t, r))
		}
	}()

	if !t.Valid() {
		return failed(fmt.Errorf("unknown record type %q", t))
	}
	if record.IsAbsent(local) || record.IsAbsent(remote) {
		return Result{Outcome: NoConflict}
	}
	if err := record.Check(t, local); err != nil {
		return failed(fmt.Errorf("local version: %w", err))
	}
	if err := record.Check(t, remote); err != nil {
		return failed(fmt.Errorf("remote version: %w", err))
	}

	var changed []string
	switch t {
	case record.TypePost:
		changed = d.diffPost(local.(*record.Post), remote.(*record.Post))
	case record.TypeMessage:
		changed = diffMessage(local.(*record.Message), remote.(*record.Message))
	case record.TypeProfile:
		changed = diffProfile(local.(*record.Profile), remote.(*record.Profile))
	case record.TypeMedia:
		changed = diffMedia(local.(*record.Media), remote.(*record.Media))
	}

	if len(changed) == 0 {
		return Result{Outcome: NoConflict}
	}
	return Result{Outcome: Conflict, ChangedFields: changed}
}

// DetectJSON decodes semi-structured snapshots before comparing them. A
// snapshot that fails to decode is a DetectionError; empty input is absence.
func (d *Detector) DetectJSON(localJSON, remoteJSON []byte, t record.Type) Result {
	local, err := record.Decode(t, localJSON)
	if err != nil {
		return failed(fmt.Errorf("local version: %w", err))
	}
	remote, err := record.Decode(t, remoteJSON)
	if err != nil {
		return failed(fmt.Errorf("remote version: %w", err))
	}
	return d.Detect(local, remote, t)
}

// DetectConflict is the fail-open form of Detect: a detection error is
// logged and reported as no conflict.
func (d *Detector) DetectConflict(local, remote record.Payload, t record.Type) bool {
	res := d.Detect(local, remote, t)
	if res.Outcome == DetectionError {
		d.logger.Warn("conflict detection failed, treating as no conflict",
			slog.String("type", string(t)),
			slog.String("error", res.Err.Error()),
		)
		return false
	}
	return res.IsConflict()
}

func failed(err error) Result {
	return Result{Outcome: DetectionError, Err: errors.NewDetectionError(err)}
}

func (d *Detector) diffPost(local, remote *record.Post) []string {
	var changed []string
	if local.Text != remote.Text {
		changed = append(changed, "text")
	}
	if len(local.Media) != len(remote.Media) {
		changed = append(changed, "media")
	}
	if absDuration(local.LastModified().Sub(remote.LastModified())) > d.tolerance {
		changed = append(changed, "editedAt")
	}
	return changed
}

func diffMessage(local, remote *record.Message) []string {
	var changed []string
	if local.Text != remote.Text {
		changed = append(changed, "text")
	}
	if local.Status != remote.Status {
		changed = append(changed, "status")
	}
	if len(local.Attachments) != len(remote.Attachments) {
		changed = append(changed, "attachments")
	}
	return changed
}

func diffProfile(local, remote *record.Profile) []string {
	var changed []string
	if local.DisplayName != remote.DisplayName {
		changed = append(changed, "displayName")
	}
	if local.Description != remote.Description {
		changed = append(changed, "description")
	}
	if local.Avatar != remote.Avatar {
		changed = append(changed, "avatar")
	}
	return changed
}

// diffMedia treats matching content hashes as authoritative. A hash missing
// on either side says nothing, so MIME type and size decide.
func diffMedia(local, remote *record.Media) []string {
	if local.Hash != "" && remote.Hash != "" {
		if local.Hash != remote.Hash {
			return []string{"hash"}
		}
		return nil
	}

	var changed []string
	if local.MimeType != remote.MimeType {
		changed = append(changed, "mimeType")
	}
	if local.Size != remote.Size {
		changed = append(changed, "size")
	}
	return changed
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
