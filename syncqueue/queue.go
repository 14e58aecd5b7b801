// Package syncqueue replays outbound record operations that could not reach
// the remote repository. Every operation is a durable ledger entry carrying
// its retry count; entries that exhaust their retries are marked failed and
// stay out of replay until resurfaced with Retry.
package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/internal/keylock"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/metrics"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote"
)

type queueOptions struct {
	logger  *logging.Logger
	metrics metrics.Collector
	now     func() time.Time
	rand    func() float64
	newID   func() string
}

// Option configures a Queue.
type Option interface{ apply(*queueOptions) }

type optionFn func(*queueOptions)

func (f optionFn) apply(o *queueOptions) { f(o) }

// WithLogger sets the queue logger.
func WithLogger(l *logging.Logger) Option {
	return optionFn(func(o *queueOptions) { o.logger = l })
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return optionFn(func(o *queueOptions) { o.metrics = m })
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return optionFn(func(o *queueOptions) { o.now = now })
}

// WithRandom overrides the jitter source; it must return values in [0, 1).
func WithRandom(r func() float64) Option {
	return optionFn(func(o *queueOptions) { o.rand = r })
}

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(f func() string) Option {
	return optionFn(func(o *queueOptions) { o.newID = f })
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Queue pushes ledger sync entries to a remote repository.
type Queue struct {
	store   ledger.Store
	repo    remote.Repository
	cfg     Config
	backoff exponentialBackoff
	logger  *logging.Logger
	metrics metrics.Collector
	now     func() time.Time
	newID   func() string

	entries *keylock.Locker
	replay  stdSync.Mutex

	mu     stdSync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// New creates a queue over store and repo. Zero Config fields take their
// defaults.
func New(store ledger.Store, repo remote.Repository, cfg Config, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("remote repository cannot be nil")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}

	o := &queueOptions{
		now:   time.Now,
		rand:  rand.Float64,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt.apply(o)
	}

	return &Queue{
		store: store,
		repo:  repo,
		cfg:   cfg,
		backoff: exponentialBackoff{
			initialDelay: cfg.InitialDelay,
			maxDelay:     cfg.MaxDelay,
			multiplier:   cfg.Multiplier,
			jitter:       cfg.Jitter,
			rand:         o.rand,
		},
		logger:  logging.OrDiscard(o.logger).WithComponent(logging.Component("syncqueue")),
		metrics: metrics.OrNoOp(o.metrics),
		now:     o.now,
		newID:   o.newID,
		entries: keylock.New(),
	}, nil
}

// Config returns the effective configuration.
func (q *Queue) Config() Config { return q.cfg }

// NewEntry builds a pending entry that is due immediately. It is not
// persisted; callers pass it to the store themselves, e.g. together with a
// conflict resolution.
func (q *Queue) NewEntry(op ledger.Operation, t record.Type, recordID string, payload record.Payload) *ledger.SyncLogEntry {
	now := q.now().UTC()
	return &ledger.SyncLogEntry{
		ID:            q.newID(),
		Operation:     op,
		Type:          t,
		RecordID:      recordID,
		Payload:       record.Clone(payload),
		Timestamp:     now,
		UpdatedAt:     now,
		Status:        ledger.SyncPending,
		NextAttemptAt: now,
	}
}

// Enqueue logs a pending entry without attempting it.
func (q *Queue) Enqueue(ctx context.Context, op ledger.Operation, t record.Type, recordID string, payload record.Payload) (*ledger.SyncLogEntry, error) {
	e := q.NewEntry(op, t, recordID, payload)
	if err := e.Validate(); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}
	if err := q.store.AppendSyncEntry(ctx, e); err != nil {
		return nil, err
	}
	q.logger.DebugContext(ctx, "operation queued",
		slog.String("entry_id", e.ID),
		slog.String("operation", string(op)),
		slog.String("type", string(t)),
		slog.String("record_id", recordID),
	)
	return e, nil
}

// Submit attempts op immediately and logs the outcome. A retryable failure
// leaves a pending entry with RetryCount 1 and returns no error; a
// non-retryable failure is logged as failed and returned. If ctx ends during
// the attempt the entry is still logged as pending, untried, and returned
// with the context error.
func (q *Queue) Submit(ctx context.Context, op ledger.Operation, t record.Type, recordID string, payload record.Payload) (*ledger.SyncLogEntry, error) {
	e := q.NewEntry(op, t, recordID, payload)
	if err := e.Validate(); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}

	pushErr := q.push(ctx, e)
	if pushErr != nil && ctx.Err() != nil {
		if err := q.store.AppendSyncEntry(context.WithoutCancel(ctx), e); err != nil {
			return nil, err
		}
		q.logger.DebugContext(ctx, "operation queued after cancelled attempt",
			slog.String("entry_id", e.ID),
			slog.String("operation", string(op)),
			slog.String("record_id", recordID),
		)
		return e, ctx.Err()
	}
	q.apply(e, pushErr)

	// The outcome is recorded even if ctx is cancelled afterwards.
	if err := q.store.AppendSyncEntry(context.WithoutCancel(ctx), e); err != nil {
		return nil, err
	}
	q.logOutcome(ctx, e, pushErr)

	if pushErr != nil && e.Status == ledger.SyncFailed && !syncErrors.IsRetryable(pushErr) {
		return e, pushErr
	}
	return e, nil
}

// Deliver attempts a stored pending entry once, outside the replay
// schedule. Entries that are no longer pending are returned unchanged. The
// push error, if any, is returned alongside the updated entry.
func (q *Queue) Deliver(ctx context.Context, id string) (*ledger.SyncLogEntry, error) {
	unlock := q.entries.Lock(id)
	defer unlock()

	e, err := q.store.GetSyncEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != ledger.SyncPending {
		return e, nil
	}
	return q.attempt(ctx, e)
}

// ReplayPending pushes due pending entries, oldest first, up to BatchSize.
// Per-entry failures are recorded on the entries, not returned.
func (q *Queue) ReplayPending(ctx context.Context) (ReplayResult, error) {
	q.replay.Lock()
	defer q.replay.Unlock()

	var res ReplayResult
	due, err := q.store.ListSyncLog(ctx, ledger.SyncQuery{
		Status:    ledger.SyncPending,
		DueBefore: q.now(),
		Limit:     q.cfg.BatchSize,
	})
	if err != nil {
		return res, err
	}

	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		q.replayOne(ctx, candidate.ID, &res)
	}

	if res.Attempted > 0 {
		q.logger.InfoContext(ctx, "replay pass finished",
			slog.Int("attempted", res.Attempted),
			slog.Int("completed", res.Completed),
			slog.Int("retried", res.Retried),
			slog.Int("failed", res.Failed),
		)
	}
	q.metrics.RecordReplay(res.Completed, res.Retried, res.Failed)
	return res, nil
}

func (q *Queue) replayOne(ctx context.Context, id string, res *ReplayResult) {
	unlock := q.entries.Lock(id)
	defer unlock()

	// Re-read under the entry lock; Deliver may have finished it.
	e, err := q.store.GetSyncEntry(ctx, id)
	if err != nil {
		q.logger.LogError(ctx, err, "failed to load sync entry", slog.String("entry_id", id))
		res.Skipped++
		return
	}
	if e.Status != ledger.SyncPending || e.NextAttemptAt.After(q.now()) {
		res.Skipped++
		return
	}

	res.Attempted++
	updated, err := q.attempt(ctx, e)
	if updated == nil || ctx.Err() != nil {
		return
	}
	switch {
	case updated.Status == ledger.SyncCompleted:
		res.Completed++
	case updated.Status == ledger.SyncFailed:
		res.Failed++
	case err != nil:
		res.Retried++
	}
}

// attempt pushes e and persists the outcome. The caller holds the entry
// lock.
func (q *Queue) attempt(ctx context.Context, e *ledger.SyncLogEntry) (*ledger.SyncLogEntry, error) {
	pushErr := q.push(ctx, e)
	if pushErr != nil && ctx.Err() != nil {
		// Cancellation is not the remote's fault; leave the entry untouched.
		return e, ctx.Err()
	}

	updated, err := q.store.UpdateSyncEntry(context.WithoutCancel(ctx), e.ID, func(cur *ledger.SyncLogEntry) error {
		q.apply(cur, pushErr)
		return nil
	})
	if err != nil {
		q.logger.LogError(ctx, err, "failed to record sync outcome", slog.String("entry_id", e.ID))
		return nil, err
	}
	q.logOutcome(ctx, updated, pushErr)
	return updated, pushErr
}

func (q *Queue) push(ctx context.Context, e *ledger.SyncLogEntry) error {
	var err error
	switch e.Operation {
	case ledger.OpDelete:
		err = q.repo.DeleteRecord(ctx, e.Type, e.RecordID)
	default:
		err = q.repo.PutRecord(ctx, e.Type, e.RecordID, e.Payload)
	}
	q.metrics.RecordReplication(err == nil)
	return err
}

// apply records the outcome of one attempt on e.
func (q *Queue) apply(e *ledger.SyncLogEntry, pushErr error) {
	now := q.now().UTC()
	e.UpdatedAt = now
	if pushErr == nil {
		e.Status = ledger.SyncCompleted
		e.Error = ""
		return
	}

	e.RetryCount++
	e.Error = pushErr.Error()
	if e.RetryCount >= q.cfg.MaxRetries || !syncErrors.IsRetryable(pushErr) {
		e.Status = ledger.SyncFailed
		return
	}
	e.Status = ledger.SyncPending
	e.NextAttemptAt = now.Add(q.backoff.nextDelay(e.RetryCount))
}

func (q *Queue) logOutcome(ctx context.Context, e *ledger.SyncLogEntry, pushErr error) {
	attrs := []slog.Attr{
		slog.String("entry_id", e.ID),
		slog.String("operation", string(e.Operation)),
		slog.String("type", string(e.Type)),
		slog.String("record_id", e.RecordID),
		slog.Int("retry_count", e.RetryCount),
	}
	switch {
	case pushErr == nil:
		q.logger.DebugContext(ctx, "sync entry completed", attrsToAny(attrs)...)
	case e.Status == ledger.SyncFailed:
		q.metrics.RecordError(string(syncErrors.OpReplay), string(syncErrors.CodeOf(pushErr)))
		q.logger.LogError(ctx, pushErr, "sync entry failed permanently", attrs...)
	default:
		attrs = append(attrs, slog.Time("next_attempt_at", e.NextAttemptAt), slog.String("error", pushErr.Error()))
		q.logger.WarnContext(ctx, "sync entry will be retried", attrsToAny(attrs)...)
	}
}

// Retry resurfaces a failed entry: it becomes pending and due now with a
// fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) (*ledger.SyncLogEntry, error) {
	unlock := q.entries.Lock(id)
	defer unlock()

	return q.store.UpdateSyncEntry(ctx, id, func(e *ledger.SyncLogEntry) error {
		if e.Status != ledger.SyncFailed {
			return syncErrors.NewValidationError(syncErrors.OpReplay,
				fmt.Errorf("%w: sync entry %s is %s, not failed", ledger.ErrInvalidTransition, id, e.Status))
		}
		now := q.now().UTC()
		e.Status = ledger.SyncPending
		e.RetryCount = 0
		e.NextAttemptAt = now
		e.UpdatedAt = now
		return nil
	})
}

// RetryFailed resurfaces every failed entry and returns how many changed.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	failed, err := q.store.ListSyncLog(ctx, ledger.SyncQuery{Status: ledger.SyncFailed})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range failed {
		if _, err := q.Retry(ctx, e.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Start runs ReplayPending every Interval until ctx is done or Stop is
// called.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if q.closed {
		return syncErrors.New(syncErrors.OpReplay, fmt.Errorf("sync queue is closed"))
	}
	if q.cfg.Interval <= 0 {
		return syncErrors.New(syncErrors.OpReplay, fmt.Errorf("replay interval must be positive"))
	}
	if q.stop != nil {
		return syncErrors.New(syncErrors.OpReplay, fmt.Errorf("replay loop is already running"))
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	q.stop, q.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(q.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := q.ReplayPending(ctx); err != nil && ctx.Err() == nil {
					q.logger.LogError(ctx, err, "replay pass failed")
				}
			}
		}
	}()

	q.logger.InfoContext(ctx, "replay loop started", slog.Duration("interval", q.cfg.Interval))
	return nil
}

// Stop ends the replay loop and waits for an in-flight pass to finish.
func (q *Queue) Stop() error {
	q.mu.Lock()
	stop, done := q.stop, q.done
	q.stop, q.done = nil, nil
	q.mu.Unlock()

	if stop == nil {
		return syncErrors.New(syncErrors.OpReplay, fmt.Errorf("replay loop is not running"))
	}
	close(stop)
	<-done
	return nil
}

// Close stops the loop if running. The store is owned by the caller.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	stop, done := q.stop, q.done
	q.stop, q.done = nil, nil
	q.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
