// Package sqlstore implements ledger.Store on top of database/sql. Driver
// specifics (placeholders, row locking, schema types) live in a Dialect so
// the sqlite and postgres packages only open connections.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// ErrStoreClosed is returned by every method after Close.
var ErrStoreClosed = errors.New("store is closed")

// Dialect captures the differences between SQL backends.
type Dialect struct {
	// Name is used as the error component, e.g. "storage/sqlite".
	Name string

	// Schema statements run once at startup; they must be idempotent.
	Schema []string

	// Rebind rewrites '?' placeholders for the driver. Nil keeps them.
	Rebind func(query string) string

	// LockClause is appended to SELECTs inside read-modify-write
	// transactions, e.g. " FOR UPDATE".
	LockClause string

	// IsDuplicate reports whether err is a primary-key violation.
	IsDuplicate func(err error) bool
}

// Store is a ledger.Store over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *logging.Logger

	mu     stdSync.RWMutex
	closed bool
}

var _ ledger.Store = (*Store)(nil)

// New wraps db and applies the dialect schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect, logger *logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  logging.OrDiscard(logger).WithComponent(logging.Component(dialect.Name)),
	}
	if err := s.setupSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup ledger schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) setupSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) q(query string) string {
	if s.dialect.Rebind == nil {
		return query
	}
	return s.dialect.Rebind(query)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *Store) wrap(err error, op syncErrors.Operation) error {
	return syncErrors.WrapOpComponent(err, op, s.dialect.Name)
}

func (s *Store) notFound(kind, id string) error {
	return syncErrors.WrapNotFound(fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound), syncErrors.OpLoad, s.dialect.Name)
}

func (s *Store) duplicate(kind, id string, err error) error {
	if s.dialect.IsDuplicate != nil && s.dialect.IsDuplicate(err) {
		return syncErrors.NewConflictError(syncErrors.OpStore, fmt.Errorf("%s %s: %w", kind, id, ledger.ErrDuplicate))
	}
	return s.wrap(err, syncErrors.OpStore)
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err, syncErrors.OpStore)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return s.wrap(err, syncErrors.OpStore)
	}
	return nil
}

// Close marks the store closed and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// --- conflicts ---

const conflictColumns = `id, type, record_id, local_version, remote_version, created_at, status, resolution, merged_version, changed_fields, last_error, updated_at, needs_review`

func (s *Store) CreateConflict(ctx context.Context, c *ledger.Conflict) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpStore, err)
	}
	row, err := encodeConflict(c)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpStore, err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO conflicts (`+conflictColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`), row.args()...)
	if err != nil {
		return s.duplicate("conflict", c.ID, err)
	}

	s.logger.DebugContext(ctx, "conflict stored",
		slog.String("conflict_id", c.ID),
		slog.String("type", string(c.Type)),
	)
	return nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*ledger.Conflict, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`), id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.notFound("conflict", id)
	}
	if err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	return c, nil
}

func (s *Store) UpdateConflict(ctx context.Context, id string, fn func(*ledger.Conflict) error) (*ledger.Conflict, error) {
	return s.CommitResolution(ctx, id, fn, nil)
}

func (s *Store) CommitResolution(ctx context.Context, id string, fn func(*ledger.Conflict) error, entry *ledger.SyncLogEntry) (*ledger.Conflict, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if entry != nil {
		if err := entry.Validate(); err != nil {
			return nil, syncErrors.NewValidationError(syncErrors.OpStore, err)
		}
	}

	var out *ledger.Conflict
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`+s.dialect.LockClause), id)
		c, err := scanConflict(row)
		if errors.Is(err, sql.ErrNoRows) {
			return s.notFound("conflict", id)
		}
		if err != nil {
			return s.wrap(err, syncErrors.OpLoad)
		}

		if err := fn(c); err != nil {
			return err
		}
		c.ID = id
		if err := c.Validate(); err != nil {
			return syncErrors.NewValidationError(syncErrors.OpStore, err)
		}

		enc, err := encodeConflict(c)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpStore, err)
		}
		_, err = tx.ExecContext(ctx, s.q(`UPDATE conflicts SET local_version = ?, remote_version = ?, status = ?, resolution = ?, merged_version = ?, changed_fields = ?, last_error = ?, updated_at = ? WHERE id = ?`),
			enc.local, enc.remote, enc.status, enc.resolution, enc.merged, enc.changed, enc.lastError, enc.updatedAt, id)
		if err != nil {
			return s.wrap(err, syncErrors.OpStore)
		}

		if entry != nil {
			if err := s.insertSyncEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListConflicts(ctx context.Context, q ledger.ConflictQuery) ([]*ledger.Conflict, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(q.Type))
	}

	query := `SELECT ` + conflictColumns + ` FROM conflicts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	defer rows.Close()

	var out []*ledger.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, s.wrap(fmt.Errorf("failed to scan conflict row: %w", err), syncErrors.OpLoad)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	return out, nil
}

// --- strategies ---

func (s *Store) PutStrategy(ctx context.Context, rec ledger.StrategyRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !rec.Type.Valid() {
		return syncErrors.NewValidationError(syncErrors.OpStore, fmt.Errorf("unknown record type %q", rec.Type))
	}
	// Upsert: one row per type.
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO merge_strategies (type, strategy, resolver, last_updated) VALUES (?, ?, ?, ?)
		ON CONFLICT (type) DO UPDATE SET strategy = excluded.strategy, resolver = excluded.resolver, last_updated = excluded.last_updated`),
		string(rec.Type), rec.Strategy, rec.Resolver, toNanos(rec.LastUpdated))
	if err != nil {
		return s.wrap(err, syncErrors.OpStore)
	}
	return nil
}

func (s *Store) GetStrategy(ctx context.Context, t record.Type) (ledger.StrategyRecord, error) {
	if err := s.checkOpen(); err != nil {
		return ledger.StrategyRecord{}, err
	}
	var rec ledger.StrategyRecord
	var typ string
	var updated int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT type, strategy, resolver, last_updated FROM merge_strategies WHERE type = ?`), string(t)).
		Scan(&typ, &rec.Strategy, &rec.Resolver, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.StrategyRecord{}, s.notFound("strategy", string(t))
	}
	if err != nil {
		return ledger.StrategyRecord{}, s.wrap(err, syncErrors.OpLoad)
	}
	rec.Type = record.Type(typ)
	rec.LastUpdated = fromNanos(updated)
	return rec, nil
}

func (s *Store) ListStrategies(ctx context.Context) ([]ledger.StrategyRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT type, strategy, resolver, last_updated FROM merge_strategies ORDER BY type ASC`)
	if err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	defer rows.Close()

	var out []ledger.StrategyRecord
	for rows.Next() {
		var rec ledger.StrategyRecord
		var typ string
		var updated int64
		if err := rows.Scan(&typ, &rec.Strategy, &rec.Resolver, &updated); err != nil {
			return nil, s.wrap(err, syncErrors.OpLoad)
		}
		rec.Type = record.Type(typ)
		rec.LastUpdated = fromNanos(updated)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	return out, nil
}

// --- sync log ---

const syncColumns = `id, operation, type, record_id, conflict_id, payload, logged_at, updated_at, status, retry_count, next_attempt_at, error`

func (s *Store) AppendSyncEntry(ctx context.Context, e *ledger.SyncLogEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpStore, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertSyncEntry(ctx, tx, e)
	})
}

func (s *Store) insertSyncEntry(ctx context.Context, tx *sql.Tx, e *ledger.SyncLogEntry) error {
	enc, err := encodeSyncEntry(e)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpStore, err)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO sync_log (`+syncColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`), enc.args()...)
	if err != nil {
		return s.duplicate("sync entry", e.ID, err)
	}
	return nil
}

func (s *Store) GetSyncEntry(ctx context.Context, id string) (*ledger.SyncLogEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+syncColumns+` FROM sync_log WHERE id = ?`), id)
	e, err := scanSyncEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.notFound("sync entry", id)
	}
	if err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	return e, nil
}

func (s *Store) UpdateSyncEntry(ctx context.Context, id string, fn func(*ledger.SyncLogEntry) error) (*ledger.SyncLogEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out *ledger.SyncLogEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`SELECT `+syncColumns+` FROM sync_log WHERE id = ?`+s.dialect.LockClause), id)
		e, err := scanSyncEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return s.notFound("sync entry", id)
		}
		if err != nil {
			return s.wrap(err, syncErrors.OpLoad)
		}

		if err := fn(e); err != nil {
			return err
		}
		e.ID = id
		if err := e.Validate(); err != nil {
			return syncErrors.NewValidationError(syncErrors.OpStore, err)
		}

		enc, err := encodeSyncEntry(e)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpStore, err)
		}
		_, err = tx.ExecContext(ctx, s.q(`UPDATE sync_log SET payload = ?, updated_at = ?, status = ?, retry_count = ?, next_attempt_at = ?, error = ? WHERE id = ?`),
			enc.payload, enc.updatedAt, enc.status, enc.retryCount, enc.nextAttemptAt, enc.errMsg, id)
		if err != nil {
			return s.wrap(err, syncErrors.OpStore)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListSyncLog(ctx context.Context, q ledger.SyncQuery) ([]*ledger.SyncLogEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.DueBefore.IsZero() {
		where = append(where, "next_attempt_at <= ?")
		args = append(args, toNanos(q.DueBefore))
	}

	query := `SELECT ` + syncColumns + ` FROM sync_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if q.NewestFirst {
		query += ` ORDER BY logged_at DESC, id DESC`
	} else {
		query += ` ORDER BY logged_at ASC, id ASC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	defer rows.Close()

	var out []*ledger.SyncLogEntry
	for rows.Next() {
		e, err := scanSyncEntry(rows)
		if err != nil {
			return nil, s.wrap(fmt.Errorf("failed to scan sync log row: %w", err), syncErrors.OpLoad)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, syncErrors.OpLoad)
	}
	return out, nil
}

// --- row encoding ---

type scanner interface {
	Scan(dest ...any) error
}

type conflictRow struct {
	id, typ, recordID  string
	local, remote      sql.NullString
	createdAt          int64
	status, resolution string
	merged             sql.NullString
	changed            string
	lastError          string
	updatedAt          int64
	needsReview        bool
}

func (r conflictRow) args() []any {
	return []any{r.id, r.typ, r.recordID, r.local, r.remote, r.createdAt, r.status, r.resolution, r.merged, r.changed, r.lastError, r.updatedAt, r.needsReview}
}

func encodeConflict(c *ledger.Conflict) (conflictRow, error) {
	local, err := encodePayload(c.Local)
	if err != nil {
		return conflictRow{}, fmt.Errorf("local version: %w", err)
	}
	remote, err := encodePayload(c.Remote)
	if err != nil {
		return conflictRow{}, fmt.Errorf("remote version: %w", err)
	}
	merged, err := encodePayload(c.Merged)
	if err != nil {
		return conflictRow{}, fmt.Errorf("merged version: %w", err)
	}
	changed := "[]"
	if len(c.ChangedFields) > 0 {
		b, err := json.Marshal(c.ChangedFields)
		if err != nil {
			return conflictRow{}, err
		}
		changed = string(b)
	}
	return conflictRow{
		id:          c.ID,
		typ:         string(c.Type),
		recordID:    c.RecordID,
		local:       local,
		remote:      remote,
		createdAt:   toNanos(c.Timestamp),
		status:      string(c.Status),
		resolution:  string(c.Resolution),
		merged:      merged,
		changed:     changed,
		lastError:   c.LastError,
		updatedAt:   toNanos(c.UpdatedAt),
		needsReview: c.NeedsReview,
	}, nil
}

func scanConflict(sc scanner) (*ledger.Conflict, error) {
	var r conflictRow
	if err := sc.Scan(&r.id, &r.typ, &r.recordID, &r.local, &r.remote, &r.createdAt, &r.status, &r.resolution, &r.merged, &r.changed, &r.lastError, &r.updatedAt, &r.needsReview); err != nil {
		return nil, err
	}

	t := record.Type(r.typ)
	c := &ledger.Conflict{
		ID:          r.id,
		Type:        t,
		RecordID:    r.recordID,
		Timestamp:   fromNanos(r.createdAt),
		Status:      ledger.ConflictStatus(r.status),
		Resolution:  ledger.Resolution(r.resolution),
		LastError:   r.lastError,
		UpdatedAt:   fromNanos(r.updatedAt),
		NeedsReview: r.needsReview,
	}
	var err error
	if c.Local, err = decodePayload(t, r.local); err != nil {
		return nil, fmt.Errorf("conflict %s local version: %w", r.id, err)
	}
	if c.Remote, err = decodePayload(t, r.remote); err != nil {
		return nil, fmt.Errorf("conflict %s remote version: %w", r.id, err)
	}
	if c.Merged, err = decodePayload(t, r.merged); err != nil {
		return nil, fmt.Errorf("conflict %s merged version: %w", r.id, err)
	}
	if r.changed != "" && r.changed != "[]" {
		if err := json.Unmarshal([]byte(r.changed), &c.ChangedFields); err != nil {
			return nil, fmt.Errorf("conflict %s changed fields: %w", r.id, err)
		}
	}
	return c, nil
}

type syncRow struct {
	id, operation, typ, recordID, conflictID string
	payload                                  sql.NullString
	loggedAt, updatedAt                      int64
	status                                   string
	retryCount                               int
	nextAttemptAt                            int64
	errMsg                                   string
}

func (r syncRow) args() []any {
	return []any{r.id, r.operation, r.typ, r.recordID, r.conflictID, r.payload, r.loggedAt, r.updatedAt, r.status, r.retryCount, r.nextAttemptAt, r.errMsg}
}

func encodeSyncEntry(e *ledger.SyncLogEntry) (syncRow, error) {
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return syncRow{}, fmt.Errorf("payload: %w", err)
	}
	return syncRow{
		id:            e.ID,
		operation:     string(e.Operation),
		typ:           string(e.Type),
		recordID:      e.RecordID,
		conflictID:    e.ConflictID,
		payload:       payload,
		loggedAt:      toNanos(e.Timestamp),
		updatedAt:     toNanos(e.UpdatedAt),
		status:        string(e.Status),
		retryCount:    e.RetryCount,
		nextAttemptAt: toNanos(e.NextAttemptAt),
		errMsg:        e.Error,
	}, nil
}

func scanSyncEntry(sc scanner) (*ledger.SyncLogEntry, error) {
	var r syncRow
	if err := sc.Scan(&r.id, &r.operation, &r.typ, &r.recordID, &r.conflictID, &r.payload, &r.loggedAt, &r.updatedAt, &r.status, &r.retryCount, &r.nextAttemptAt, &r.errMsg); err != nil {
		return nil, err
	}
	t := record.Type(r.typ)
	payload, err := decodePayload(t, r.payload)
	if err != nil {
		return nil, fmt.Errorf("sync entry %s payload: %w", r.id, err)
	}
	return &ledger.SyncLogEntry{
		ID:            r.id,
		Operation:     ledger.Operation(r.operation),
		Type:          t,
		RecordID:      r.recordID,
		ConflictID:    r.conflictID,
		Payload:       payload,
		Timestamp:     fromNanos(r.loggedAt),
		UpdatedAt:     fromNanos(r.updatedAt),
		Status:        ledger.SyncStatus(r.status),
		RetryCount:    r.retryCount,
		NextAttemptAt: fromNanos(r.nextAttemptAt),
		Error:         r.errMsg,
	}, nil
}

func encodePayload(p record.Payload) (sql.NullString, error) {
	data, err := record.Encode(p)
	if err != nil || data == nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodePayload(t record.Type, s sql.NullString) (record.Payload, error) {
	if !s.Valid {
		return nil, nil
	}
	return record.Decode(t, []byte(s.String))
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
