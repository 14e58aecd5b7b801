package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/strategy"
)

// Outcome tags a Result.
type Outcome int

const (
	// OutcomeResolved means the conflict was resolved by this call.
	OutcomeResolved Outcome = iota
	// OutcomeManual means the type is bound to the manual strategy, or the
	// conflict needs review, and it was left pending for a human decision.
	OutcomeManual
	// OutcomeAlreadyResolved means the conflict was resolved earlier and
	// nothing changed.
	OutcomeAlreadyResolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeManual:
		return "manual"
	case OutcomeAlreadyResolved:
		return "already_resolved"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes what a resolution call did.
type Result struct {
	Conflict *ledger.Conflict
	Outcome  Outcome

	// Entry is the replication sync entry written with the resolution.
	Entry *ledger.SyncLogEntry

	// Replicated reports whether the resolved record reached the remote
	// repository. When false the entry stays queued for replay.
	Replicated bool
}

// ResolveConflict applies the merge strategy bound to the conflict's type
// and persists the outcome. Resolving an already resolved conflict is a
// no-op. Replication failures are logged and reported through
// Result.Replicated, not as an error.
func (s *Service) ResolveConflict(ctx context.Context, id string) (Result, error) {
	if err := s.checkOpen(); err != nil {
		return Result{}, err
	}

	unlock := s.conflicts.Lock(id)
	defer unlock()

	ctx = logging.ContextWithConflictID(ctx, id)
	start := s.now()

	c, err := s.store.GetConflict(ctx, id)
	if err != nil {
		return Result{}, err
	}
	switch c.Status {
	case ledger.ConflictResolved:
		return Result{Conflict: c, Outcome: OutcomeAlreadyResolved}, nil
	case ledger.ConflictFailed:
		return Result{}, syncErrors.NewConflictError(syncErrors.OpResolve,
			fmt.Errorf("%w: conflict %s failed and needs a manual resolution", ledger.ErrInvalidTransition, id))
	}

	if c.NeedsReview {
		s.metrics.RecordResolution(string(c.Type), OutcomeManual.String(), s.now().Sub(start))
		s.logger.WithContext(ctx).InfoContext(ctx, "conflict needs review",
			slog.String("type", string(c.Type)),
			slog.String("last_error", c.LastError),
		)
		return Result{Conflict: c, Outcome: OutcomeManual}, nil
	}

	d, err := s.registry.Decide(ctx, c.Type, c.Local, c.Remote)
	if err != nil {
		return Result{}, s.recordFailure(ctx, c, err)
	}
	if d.Manual {
		s.metrics.RecordResolution(string(c.Type), OutcomeManual.String(), s.now().Sub(start))
		s.logger.WithContext(ctx).InfoContext(ctx, "conflict awaits manual resolution",
			slog.String("type", string(c.Type)),
		)
		return Result{Conflict: c, Outcome: OutcomeManual}, nil
	}

	return s.commit(ctx, c, d.Resolution, d.Payload, start)
}

// ResolveManually records a human decision for a pending or failed
// conflict. merged must be set exactly when resolution is merged.
func (s *Service) ResolveManually(ctx context.Context, id string, resolution ledger.Resolution, merged record.Payload) (Result, error) {
	if err := s.checkOpen(); err != nil {
		return Result{}, err
	}
	if !resolution.Valid() {
		return Result{}, syncErrors.NewValidationError(syncErrors.OpResolve, fmt.Errorf("unknown resolution %q", resolution))
	}
	if (resolution == ledger.ResolutionMerged) == record.IsAbsent(merged) {
		return Result{}, syncErrors.NewValidationError(syncErrors.OpResolve,
			errors.New("a merged version is required for, and only for, a merged resolution"))
	}

	unlock := s.conflicts.Lock(id)
	defer unlock()

	ctx = logging.ContextWithConflictID(ctx, id)
	start := s.now()

	c, err := s.store.GetConflict(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if c.Status == ledger.ConflictResolved {
		return Result{}, syncErrors.NewConflictError(syncErrors.OpResolve,
			fmt.Errorf("%w: conflict %s is already resolved", ledger.ErrInvalidTransition, id))
	}
	if err := record.Check(c.Type, merged); err != nil {
		return Result{}, syncErrors.NewValidationError(syncErrors.OpResolve, err)
	}

	payload := merged
	switch resolution {
	case ledger.ResolutionLocal:
		payload = c.Local
	case ledger.ResolutionRemote:
		payload = c.Remote
	}
	return s.commit(ctx, c, resolution, payload, start)
}

// commit persists the resolution together with its replication entry, then
// attempts delivery. The caller holds the conflict lock.
func (s *Service) commit(ctx context.Context, c *ledger.Conflict, resolution ledger.Resolution, payload record.Payload, start time.Time) (Result, error) {
	op := ledger.OpUpdate
	if record.IsAbsent(payload) {
		op = ledger.OpDelete
	}
	entry := s.queue.NewEntry(op, c.Type, c.RecordID, payload)
	entry.ConflictID = c.ID

	var merged record.Payload
	if resolution == ledger.ResolutionMerged {
		merged = record.Clone(payload)
	}
	at := s.now().UTC()

	updated, err := s.store.CommitResolution(ctx, c.ID, func(cur *ledger.Conflict) error {
		return cur.MarkResolved(resolution, merged, at)
	}, entry)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			return Result{}, syncErrors.NewConflictError(syncErrors.OpResolve, err)
		}
		return Result{}, s.recordFailure(ctx, c, err)
	}

	log := s.logger.WithContext(ctx)
	s.metrics.RecordResolution(string(c.Type), string(resolution), s.now().Sub(start))
	log.InfoContext(ctx, "conflict resolved",
		slog.String("type", string(c.Type)),
		slog.String("resolution", string(resolution)),
		slog.String("entry_id", entry.ID),
	)

	res := Result{Conflict: updated, Outcome: OutcomeResolved, Entry: entry}
	delivered, err := s.queue.Deliver(ctx, entry.ID)
	if delivered != nil {
		res.Entry = delivered
	}
	if err != nil {
		repErr := syncErrors.NewReplicationError(err).
			WithMetadata("conflict_id", c.ID).
			WithMetadata("entry_id", entry.ID)
		s.metrics.RecordError(string(syncErrors.OpReplicate), string(syncErrors.ErrCodeReplicationFailure))
		log.LogError(ctx, repErr, "replication of resolved conflict failed",
			slog.String("record_id", c.RecordID),
		)
		return res, nil
	}
	res.Replicated = res.Entry.Status == ledger.SyncCompleted
	return res, nil
}

// recordFailure notes cause on the conflict and returns the error for the
// caller. Unrecoverable resolver errors mark the conflict failed; anything
// else leaves it pending.
func (s *Service) recordFailure(ctx context.Context, c *ledger.Conflict, cause error) error {
	unrecoverable := errors.Is(cause, strategy.ErrUnrecoverable)
	at := s.now().UTC()

	_, err := s.store.UpdateConflict(context.WithoutCancel(ctx), c.ID, func(cur *ledger.Conflict) error {
		if unrecoverable {
			return cur.MarkFailed(cause.Error(), at)
		}
		cur.LastError = cause.Error()
		cur.UpdatedAt = at
		return nil
	})
	log := s.logger.WithContext(ctx)
	if err != nil {
		log.LogError(ctx, err, "failed to record resolution error")
	}

	var syncErr *syncErrors.SyncError
	if !errors.As(cause, &syncErr) {
		syncErr = syncErrors.NewResolutionError(syncErrors.OpResolve, cause)
		if unrecoverable {
			syncErr.Retryable = false
		}
	}
	resErr := syncErr.WithMetadata("conflict_id", c.ID)

	s.metrics.RecordError(string(syncErrors.OpResolve), string(syncErrors.CodeOf(resErr)))
	log.LogError(ctx, resErr, "conflict resolution failed",
		slog.String("type", string(c.Type)),
		slog.Bool("unrecoverable", unrecoverable),
	)
	return resErr
}

// Summary totals an AutoResolvePending pass.
type Summary struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Manual    int `json:"manual"`
	Failed    int `json:"failed"`

	// Unreplicated counts resolutions whose replication is still queued.
	Unreplicated int `json:"unreplicated"`
}

// AutoResolvePending resolves every pending conflict. Per-conflict errors
// are collected and returned joined; conflicts bound to the manual strategy
// stay pending.
func (s *Service) AutoResolvePending(ctx context.Context) (Summary, error) {
	var sum Summary

	pending, err := s.GetPendingConflicts(ctx)
	if err != nil {
		return sum, err
	}

	var errs []error
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sum.Attempted++
		res, err := s.ResolveConflict(ctx, c.ID)
		if err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("conflict %s: %w", c.ID, err))
			continue
		}
		switch res.Outcome {
		case OutcomeResolved:
			sum.Resolved++
			if !res.Replicated {
				sum.Unreplicated++
			}
		case OutcomeManual:
			sum.Manual++
		}
	}

	s.logger.InfoContext(ctx, "auto-resolve pass finished",
		slog.Int("attempted", sum.Attempted),
		slog.Int("resolved", sum.Resolved),
		slog.Int("manual", sum.Manual),
		slog.Int("failed", sum.Failed),
	)
	return sum, errors.Join(errs...)
}
