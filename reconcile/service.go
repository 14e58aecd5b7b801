// Package reconcile records conflicts between local and remote copies of a
// record, resolves them through the merge strategy registry and replicates
// the outcome through the sync queue.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/detect"
	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/internal/keylock"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/metrics"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/strategy"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/syncqueue"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("reconcile: service is closed")

// Service is the conflict ledger facade. It is safe for concurrent use;
// resolutions of the same conflict are serialized.
type Service struct {
	store      ledger.Store
	detector   *detect.Detector
	registry   *strategy.Registry
	queue      *syncqueue.Queue
	failClosed bool

	logger  *logging.Logger
	metrics metrics.Collector
	now     func() time.Time
	newID   func() string

	conflicts *keylock.Locker

	mu     sync.RWMutex
	closed bool
}

// New builds a Service over store. repo receives replicated resolutions and
// may be nil only when WithQueue is given.
func New(store ledger.Store, repo remote.Repository, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	o := &serviceOptions{
		queueCfg: syncqueue.DefaultConfig(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt.apply(o)
	}

	logger := logging.OrDiscard(o.logger)
	collector := metrics.OrNoOp(o.metrics)

	if o.detector == nil {
		o.detector = detect.New(detect.WithLogger(logger))
	}
	if o.registry == nil {
		o.registry = strategy.NewRegistry(store,
			strategy.WithLogger(logger),
			strategy.WithClock(o.now),
		)
	}
	if o.queue == nil {
		if repo == nil {
			return nil, fmt.Errorf("remote repository cannot be nil")
		}
		q, err := syncqueue.New(store, repo, o.queueCfg,
			syncqueue.WithLogger(logger),
			syncqueue.WithMetrics(collector),
			syncqueue.WithClock(o.now),
			syncqueue.WithIDGenerator(o.newID),
		)
		if err != nil {
			return nil, err
		}
		o.queue = q
	}

	return &Service{
		store:      store,
		detector:   o.detector,
		registry:   o.registry,
		queue:      o.queue,
		failClosed: o.failClosed,
		logger:     logger.WithComponent(logging.Component("reconcile")),
		metrics:    collector,
		now:        o.now,
		newID:      o.newID,
		conflicts:  keylock.New(),
	}, nil
}

// Registry returns the merge strategy registry.
func (s *Service) Registry() *strategy.Registry { return s.registry }

// Queue returns the sync queue used for replication.
func (s *Service) Queue() *syncqueue.Queue { return s.queue }

// LoadStrategies restores persisted strategy bindings.
func (s *Service) LoadStrategies(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.registry.Load(ctx)
}

// DetectConflict reports whether local and remote diverge. Detection
// failures are logged and reported as no conflict.
func (s *Service) DetectConflict(local, remote record.Payload, t record.Type) bool {
	return s.detector.DetectConflict(local, remote, t)
}

// Detect returns the full detection result.
func (s *Service) Detect(local, remote record.Payload, t record.Type) detect.Result {
	return s.detector.Detect(local, remote, t)
}

// RecordConflict compares local and remote and, when they diverge, records a
// pending conflict for recordID. It returns nil when there is nothing to
// reconcile.
func (s *Service) RecordConflict(ctx context.Context, recordID string, local, remote record.Payload, t record.Type) (*ledger.Conflict, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if recordID == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpRecordConflict, errors.New("record id is required"))
	}

	res := s.detector.Detect(local, remote, t)
	now := s.now().UTC()
	c := &ledger.Conflict{
		ID:            s.newID(),
		Type:          t,
		RecordID:      recordID,
		Local:         record.Clone(local),
		Remote:        record.Clone(remote),
		Timestamp:     now,
		Status:        ledger.ConflictPending,
		ChangedFields: res.ChangedFields,
		UpdatedAt:     now,
	}

	switch res.Outcome {
	case detect.NoConflict:
		return nil, nil
	case detect.DetectionError:
		detErr := syncErrors.NewDetectionError(res.Err).
			WithMetadata("record_id", recordID).
			WithMetadata("type", string(t))
		s.metrics.RecordError(string(syncErrors.OpDetect), string(syncErrors.ErrCodeDetectionFailure))
		s.logger.LogError(ctx, detErr, "conflict detection failed",
			slog.String("record_id", recordID),
			slog.Bool("fail_closed", s.failClosed),
		)
		if !s.failClosed {
			return nil, nil
		}
		if !t.Valid() {
			// Without a type there is no payload codec to store the versions.
			return nil, syncErrors.NewValidationError(syncErrors.OpRecordConflict, res.Err).
				WithMetadata("record_id", recordID)
		}
		reviewable(c, res.Err)
	}
	if err := s.store.CreateConflict(ctx, c); err != nil {
		s.logger.LogError(ctx, err, "failed to record conflict", slog.String("record_id", recordID))
		return nil, err
	}

	s.metrics.RecordConflict(string(t))
	s.logger.WithContext(logging.ContextWithConflictID(ctx, c.ID)).InfoContext(ctx, "conflict recorded",
		slog.String("type", string(t)),
		slog.String("record_id", recordID),
		slog.Any("changed_fields", c.ChangedFields),
	)
	return c, nil
}

// reviewable turns c into a conflict that only a human can resolve. A
// version that is not of the conflict's type is dropped and noted in
// LastError.
func reviewable(c *ledger.Conflict, cause error) {
	msg := cause.Error()
	if err := record.Check(c.Type, c.Local); err != nil {
		c.Local = nil
		msg += "; local version dropped"
	}
	if err := record.Check(c.Type, c.Remote); err != nil {
		c.Remote = nil
		msg += "; remote version dropped"
	}
	c.LastError = msg
	c.NeedsReview = true
}

// SetMergeStrategy binds kind to t. Custom uses the type's built-in
// resolver.
func (s *Service) SetMergeStrategy(ctx context.Context, t record.Type, kind strategy.Kind) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.registry.Set(ctx, t, kind)
}

// SetCustomResolver binds the named custom resolver to t.
func (s *Service) SetCustomResolver(ctx context.Context, t record.Type, resolver string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.registry.SetCustom(ctx, t, resolver)
}

// Strategies returns a snapshot of the bindings in force.
func (s *Service) Strategies() map[record.Type]strategy.Binding {
	return s.registry.Bindings()
}

// GetPendingConflicts returns every pending conflict, oldest first.
func (s *Service) GetPendingConflicts(ctx context.Context) ([]*ledger.Conflict, error) {
	return s.GetConflicts(ctx, ledger.ConflictPending, 0)
}

// GetConflicts lists conflicts with the given status, oldest first. An
// empty status matches all and limit <= 0 means no limit.
func (s *Service) GetConflicts(ctx context.Context, status ledger.ConflictStatus, limit int) ([]*ledger.Conflict, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.ListConflicts(ctx, ledger.ConflictQuery{Status: status, Limit: limit})
}

// GetConflictDetails returns the conflict with id. The bool is false when it
// does not exist.
func (s *Service) GetConflictDetails(ctx context.Context, id string) (*ledger.Conflict, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	c, err := s.store.GetConflict(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// GetSyncLog returns up to limit sync entries, newest first. limit <= 0
// returns all.
func (s *Service) GetSyncLog(ctx context.Context, limit int) ([]*ledger.SyncLogEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.store.ListSyncLog(ctx, ledger.SyncQuery{Limit: limit, NewestFirst: true})
}

// ReplayPending runs one replay pass of the sync queue.
func (s *Service) ReplayPending(ctx context.Context) (syncqueue.ReplayResult, error) {
	if err := s.checkOpen(); err != nil {
		return syncqueue.ReplayResult{}, err
	}
	return s.queue.ReplayPending(ctx)
}

// RetrySync resurfaces a failed sync entry.
func (s *Service) RetrySync(ctx context.Context, id string) (*ledger.SyncLogEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.queue.Retry(ctx, id)
}

// Start runs the background replay loop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.queue.Start(ctx)
}

// Close stops background work. The store is owned by the caller.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.queue.Close()
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
