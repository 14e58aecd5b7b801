// Package ledger defines the durable conflict and sync log records and the
// store contract that backs them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// ConflictStatus is the state of a conflict record.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictFailed   ConflictStatus = "failed"
)

// Resolution records which side won a resolved conflict.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerged Resolution = "merged"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionMerged:
		return true
	}
	return false
}

// Operation is the kind of outbound write tracked by the sync log.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SyncStatus is the state of a sync log entry.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

var (
	// ErrNotFound is returned when a conflict, strategy or sync entry does
	// not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrDuplicate is returned when creating a record whose id exists.
	ErrDuplicate = errors.New("ledger: duplicate id")

	// ErrInvalidTransition is returned when a mutation would leave a
	// terminal state.
	ErrInvalidTransition = errors.New("ledger: invalid state transition")
)

// Conflict is a detected divergence between a local and a remote copy of the
// same logical record. Conflicts are never deleted.
type Conflict struct {
	ID            string
	Type          record.Type
	RecordID      string
	Local         record.Payload
	Remote        record.Payload
	Timestamp     time.Time
	Status        ConflictStatus
	Resolution    Resolution
	Merged        record.Payload
	ChangedFields []string
	LastError     string
	UpdatedAt     time.Time

	// NeedsReview marks a conflict recorded from a failed detection. Such
	// conflicts are never resolved by a strategy, only by ResolveManually.
	NeedsReview bool
}

// Validate checks the structural invariants of c.
func (c *Conflict) Validate() error {
	if c.ID == "" {
		return errors.New("conflict id is required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("conflict %s: unknown type %q", c.ID, c.Type)
	}
	switch c.Status {
	case ConflictPending, ConflictFailed:
		if c.Resolution != "" {
			return fmt.Errorf("conflict %s: resolution set while %s", c.ID, c.Status)
		}
	case ConflictResolved:
		if !c.Resolution.Valid() {
			return fmt.Errorf("conflict %s: resolved without a valid resolution", c.ID)
		}
	default:
		return fmt.Errorf("conflict %s: unknown status %q", c.ID, c.Status)
	}
	merged := !record.IsAbsent(c.Merged)
	if merged != (c.Resolution == ResolutionMerged) {
		return fmt.Errorf("conflict %s: merged version must be set iff resolution is merged", c.ID)
	}
	for _, p := range []record.Payload{c.Local, c.Remote, c.Merged} {
		if err := record.Check(c.Type, p); err != nil {
			return fmt.Errorf("conflict %s: %w", c.ID, err)
		}
	}
	return nil
}

// ResolvedPayload returns the payload selected by the resolution, or nil
// when the conflict is not resolved.
func (c *Conflict) ResolvedPayload() record.Payload {
	if c.Status != ConflictResolved {
		return nil
	}
	switch c.Resolution {
	case ResolutionLocal:
		return c.Local
	case ResolutionRemote:
		return c.Remote
	case ResolutionMerged:
		return c.Merged
	}
	return nil
}

// MarkResolved moves a pending or failed conflict to resolved.
func (c *Conflict) MarkResolved(res Resolution, merged record.Payload, at time.Time) error {
	if c.Status == ConflictResolved {
		return fmt.Errorf("%w: conflict %s is already resolved", ErrInvalidTransition, c.ID)
	}
	if !res.Valid() {
		return fmt.Errorf("conflict %s: unknown resolution %q", c.ID, res)
	}
	c.Status = ConflictResolved
	c.Resolution = res
	c.Merged = nil
	if res == ResolutionMerged {
		c.Merged = merged
	}
	c.LastError = ""
	c.UpdatedAt = at
	return c.Validate()
}

// MarkFailed moves a pending conflict to failed.
func (c *Conflict) MarkFailed(reason string, at time.Time) error {
	if c.Status == ConflictResolved {
		return fmt.Errorf("%w: conflict %s is already resolved", ErrInvalidTransition, c.ID)
	}
	c.Status = ConflictFailed
	c.LastError = reason
	c.UpdatedAt = at
	return nil
}

// StrategyRecord is the persisted merge strategy binding for one type.
type StrategyRecord struct {
	Type        record.Type
	Strategy    string
	Resolver    string
	LastUpdated time.Time
}

// SyncLogEntry is an outbound operation that is pending replay or has been
// replayed.
type SyncLogEntry struct {
	ID            string
	Operation     Operation
	Type          record.Type
	RecordID      string
	ConflictID    string
	Payload       record.Payload
	Timestamp     time.Time
	UpdatedAt     time.Time
	Status        SyncStatus
	RetryCount    int
	NextAttemptAt time.Time
	Error         string
}

// Validate checks the structural invariants of e.
func (e *SyncLogEntry) Validate() error {
	if e.ID == "" {
		return errors.New("sync entry id is required")
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("sync entry %s: unknown operation %q", e.ID, e.Operation)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("sync entry %s: unknown type %q", e.ID, e.Type)
	}
	switch e.Status {
	case SyncPending, SyncCompleted, SyncFailed:
	default:
		return fmt.Errorf("sync entry %s: unknown status %q", e.ID, e.Status)
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("sync entry %s: negative retry count", e.ID)
	}
	if e.Operation != OpDelete && record.IsAbsent(e.Payload) {
		return fmt.Errorf("sync entry %s: %s requires a payload", e.ID, e.Operation)
	}
	return record.Check(e.Type, e.Payload)
}

// ConflictQuery filters ListConflicts. Zero fields match everything.
// Results are ordered by timestamp ascending.
type ConflictQuery struct {
	Status ConflictStatus
	Type   record.Type
	Limit  int
}

// SyncQuery filters ListSyncLog. Zero fields match everything.
type SyncQuery struct {
	Status SyncStatus

	// DueBefore keeps entries whose next attempt is at or before the time.
	DueBefore time.Time

	Limit int

	// NewestFirst orders by timestamp descending instead of ascending.
	NewestFirst bool
}

// Store is the durable, indexed ledger. Implementations provide atomic
// per-record read-modify-write; there are no cross-record transactions other
// than CommitResolution.
type Store interface {
	CreateConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	UpdateConflict(ctx context.Context, id string, fn func(*Conflict) error) (*Conflict, error)
	ListConflicts(ctx context.Context, q ConflictQuery) ([]*Conflict, error)

	// CommitResolution applies fn to the conflict and, when entry is not
	// nil, appends the entry in the same transaction.
	CommitResolution(ctx context.Context, id string, fn func(*Conflict) error, entry *SyncLogEntry) (*Conflict, error)

	PutStrategy(ctx context.Context, s StrategyRecord) error
	GetStrategy(ctx context.Context, t record.Type) (StrategyRecord, error)
	ListStrategies(ctx context.Context) ([]StrategyRecord, error)

	AppendSyncEntry(ctx context.Context, e *SyncLogEntry) error
	GetSyncEntry(ctx context.Context, id string) (*SyncLogEntry, error)
	UpdateSyncEntry(ctx context.Context, id string, fn func(*SyncLogEntry) error) (*SyncLogEntry, error)
	ListSyncLog(ctx context.Context, q SyncQuery) ([]*SyncLogEntry, error)

	Close() error
}
