// Package storetest holds the behavioural suite every ledger.Store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) ledger.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the full ledger.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("ConflictLifecycle", func(t *testing.T) { testConflictLifecycle(t, newStore(t)) })
	t.Run("ReviewFlagPersists", func(t *testing.T) { testReviewFlag(t, newStore(t)) })
	t.Run("ConflictNotFound", func(t *testing.T) { testConflictNotFound(t, newStore(t)) })
	t.Run("DuplicateConflict", func(t *testing.T) { testDuplicateConflict(t, newStore(t)) })
	t.Run("ListConflictsFilters", func(t *testing.T) { testListConflicts(t, newStore(t)) })
	t.Run("UpdateConflictAbortsOnError", func(t *testing.T) { testUpdateAborts(t, newStore(t)) })
	t.Run("CommitResolutionAtomic", func(t *testing.T) { testCommitResolution(t, newStore(t)) })
	t.Run("Strategies", func(t *testing.T) { testStrategies(t, newStore(t)) })
	t.Run("SyncLog", func(t *testing.T) { testSyncLog(t, newStore(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

func profileConflict(id string, at time.Time) *ledger.Conflict {
	return &ledger.Conflict{
		ID:            id,
		Type:          record.TypeProfile,
		RecordID:      "user-" + id,
		Local:         &record.Profile{ID: "user-" + id, DisplayName: "Alice B.", UpdatedAt: at},
		Remote:        &record.Profile{ID: "user-" + id, DisplayName: "Alice", Followers: []string{"u2"}, UpdatedAt: at.Add(-time.Minute)},
		Timestamp:     at,
		Status:        ledger.ConflictPending,
		ChangedFields: []string{"displayName"},
	}
}

func messageConflict(id string, at time.Time) *ledger.Conflict {
	return &ledger.Conflict{
		ID:        id,
		Type:      record.TypeMessage,
		RecordID:  "msg-" + id,
		Local:     &record.Message{ID: "msg-" + id, Text: "hi", Status: record.StatusSending},
		Remote:    &record.Message{ID: "msg-" + id, Text: "hi", Status: record.StatusDelivered},
		Timestamp: at,
		Status:    ledger.ConflictPending,
	}
}

func testConflictLifecycle(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	c := profileConflict("c1", base)
	require.NoError(t, s.CreateConflict(ctx, c))

	got, err := s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ConflictPending, got.Status)
	assert.Equal(t, record.TypeProfile, got.Type)
	assert.Equal(t, "user-c1", got.RecordID)
	assert.True(t, base.Equal(got.Timestamp))
	assert.Equal(t, []string{"displayName"}, got.ChangedFields)
	assert.True(t, record.Equal(c.Local, got.Local))
	assert.True(t, record.Equal(c.Remote, got.Remote))
	assert.Nil(t, got.Merged)

	merged := &record.Profile{ID: "user-c1", DisplayName: "Alice B.", Followers: []string{"u2"}}
	updated, err := s.UpdateConflict(ctx, "c1", func(c *ledger.Conflict) error {
		return c.MarkResolved(ledger.ResolutionMerged, merged, base.Add(time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.ConflictResolved, updated.Status)

	got, err = s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ConflictResolved, got.Status)
	assert.Equal(t, ledger.ResolutionMerged, got.Resolution)
	assert.True(t, record.Equal(merged, got.Merged))
	assert.True(t, record.Equal(merged, got.ResolvedPayload()))

	_, err = s.UpdateConflict(ctx, "c1", func(c *ledger.Conflict) error {
		return c.MarkFailed("late", base)
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func testReviewFlag(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	c := profileConflict("r1", base)
	c.Remote = nil
	c.LastError = "remote version: payload does not match record type"
	c.NeedsReview = true
	require.NoError(t, s.CreateConflict(ctx, c))
	require.NoError(t, s.CreateConflict(ctx, profileConflict("r2", base)))

	got, err := s.GetConflict(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.NeedsReview)
	assert.Nil(t, got.Remote)
	assert.Equal(t, c.LastError, got.LastError)

	got, err = s.GetConflict(ctx, "r2")
	require.NoError(t, err)
	assert.False(t, got.NeedsReview)
}

func testConflictNotFound(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	_, err := s.GetConflict(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeNotFound))

	_, err = s.UpdateConflict(ctx, "missing", func(*ledger.Conflict) error { return nil })
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.GetSyncEntry(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.GetStrategy(ctx, record.TypePost)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testDuplicateConflict(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateConflict(ctx, profileConflict("dup", base)))
	err := s.CreateConflict(ctx, profileConflict("dup", base))
	assert.ErrorIs(t, err, ledger.ErrDuplicate)
}

func testListConflicts(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateConflict(ctx, messageConflict("m2", base.Add(2*time.Second))))
	require.NoError(t, s.CreateConflict(ctx, profileConflict("p1", base)))
	require.NoError(t, s.CreateConflict(ctx, messageConflict("m1", base.Add(time.Second))))
	_, err := s.UpdateConflict(ctx, "m1", func(c *ledger.Conflict) error {
		return c.MarkResolved(ledger.ResolutionRemote, nil, base)
	})
	require.NoError(t, err)

	all, err := s.ListConflicts(ctx, ledger.ConflictQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "m1", "m2"}, conflictIDs(all))

	pending, err := s.ListConflicts(ctx, ledger.ConflictQuery{Status: ledger.ConflictPending})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "m2"}, conflictIDs(pending))

	messages, err := s.ListConflicts(ctx, ledger.ConflictQuery{Type: record.TypeMessage})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, conflictIDs(messages))

	limited, err := s.ListConflicts(ctx, ledger.ConflictQuery{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, conflictIDs(limited))
}

func testUpdateAborts(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateConflict(ctx, profileConflict("c1", base)))
	boom := errors.New("boom")
	_, err := s.UpdateConflict(ctx, "c1", func(c *ledger.Conflict) error {
		c.LastError = "should not persist"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
}

func testCommitResolution(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateConflict(ctx, messageConflict("c2", base)))
	remote := &record.Message{ID: "msg-c2", Text: "hi", Status: record.StatusDelivered}
	entry := &ledger.SyncLogEntry{
		ID:         "e1",
		Operation:  ledger.OpUpdate,
		Type:       record.TypeMessage,
		RecordID:   "msg-c2",
		ConflictID: "c2",
		Payload:    remote,
		Timestamp:  base,
		Status:     ledger.SyncPending,
	}

	// A failing entry rolls back the conflict update as well.
	bad := *entry
	bad.Operation = "upsert"
	_, err := s.CommitResolution(ctx, "c2", func(c *ledger.Conflict) error {
		return c.MarkResolved(ledger.ResolutionRemote, nil, base)
	}, &bad)
	require.Error(t, err)
	got, err := s.GetConflict(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, ledger.ConflictPending, got.Status)

	_, err = s.CommitResolution(ctx, "c2", func(c *ledger.Conflict) error {
		return c.MarkResolved(ledger.ResolutionRemote, nil, base)
	}, entry)
	require.NoError(t, err)

	got, err = s.GetConflict(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, ledger.ConflictResolved, got.Status)
	assert.Equal(t, ledger.ResolutionRemote, got.Resolution)

	e, err := s.GetSyncEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "c2", e.ConflictID)
	assert.Equal(t, ledger.SyncPending, e.Status)
	assert.True(t, record.Equal(remote, e.Payload))
}

func testStrategies(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutStrategy(ctx, ledger.StrategyRecord{Type: record.TypePost, Strategy: "custom", Resolver: "post-merge", LastUpdated: base}))
	require.NoError(t, s.PutStrategy(ctx, ledger.StrategyRecord{Type: record.TypeMedia, Strategy: "local-wins", LastUpdated: base}))
	require.NoError(t, s.PutStrategy(ctx, ledger.StrategyRecord{Type: record.TypePost, Strategy: "manual", LastUpdated: base.Add(time.Second)}))

	got, err := s.GetStrategy(ctx, record.TypePost)
	require.NoError(t, err)
	assert.Equal(t, "manual", got.Strategy)
	assert.Empty(t, got.Resolver)
	assert.True(t, base.Add(time.Second).Equal(got.LastUpdated))

	all, err := s.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, record.TypeMedia, all[0].Type)
	assert.Equal(t, record.TypePost, all[1].Type)

	err = s.PutStrategy(ctx, ledger.StrategyRecord{Type: "story", Strategy: "manual"})
	assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeValidationFailure))
}

func testSyncLog(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendSyncEntry(ctx, &ledger.SyncLogEntry{
			ID:            fmt.Sprintf("e%d", i),
			Operation:     ledger.OpUpdate,
			Type:          record.TypeMedia,
			RecordID:      fmt.Sprintf("media-%d", i),
			Payload:       &record.Media{ID: fmt.Sprintf("media-%d", i), Hash: "h"},
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			Status:        ledger.SyncPending,
			NextAttemptAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.AppendSyncEntry(ctx, &ledger.SyncLogEntry{
		ID:        "del",
		Operation: ledger.OpDelete,
		Type:      record.TypeMedia,
		RecordID:  "media-9",
		Timestamp: base.Add(time.Hour),
		Status:    ledger.SyncCompleted,
	}))

	err := s.AppendSyncEntry(ctx, &ledger.SyncLogEntry{ID: "bad", Operation: ledger.OpCreate, Type: record.TypeMedia, Status: ledger.SyncPending})
	assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeValidationFailure))

	oldest, err := s.ListSyncLog(ctx, ledger.SyncQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"e0", "e1", "e2", "del"}, entryIDs(oldest))

	newest, err := s.ListSyncLog(ctx, ledger.SyncQuery{NewestFirst: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"del", "e2"}, entryIDs(newest))

	due, err := s.ListSyncLog(ctx, ledger.SyncQuery{Status: ledger.SyncPending, DueBefore: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"e0", "e1"}, entryIDs(due))

	updated, err := s.UpdateSyncEntry(ctx, "e0", func(e *ledger.SyncLogEntry) error {
		e.RetryCount = 3
		e.Status = ledger.SyncFailed
		e.Error = "offline"
		e.UpdatedAt = base.Add(time.Hour)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.RetryCount)

	got, err := s.GetSyncEntry(ctx, "e0")
	require.NoError(t, err)
	assert.Equal(t, ledger.SyncFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, "offline", got.Error)

	del, err := s.GetSyncEntry(ctx, "del")
	require.NoError(t, err)
	assert.Nil(t, del.Payload)
}

func testConcurrentUpdates(t *testing.T, s ledger.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.AppendSyncEntry(ctx, &ledger.SyncLogEntry{
		ID:        "counter",
		Operation: ledger.OpDelete,
		Type:      record.TypePost,
		RecordID:  "post-1",
		Timestamp: base,
		Status:    ledger.SyncPending,
	}))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateSyncEntry(ctx, "counter", func(e *ledger.SyncLogEntry) error {
				e.RetryCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetSyncEntry(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, workers, got.RetryCount)
}

func testClosed(t *testing.T, s ledger.Store) {
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.GetConflict(context.Background(), "x")
	assert.Error(t, err)
}

func conflictIDs(cs []*ledger.Conflict) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

func entryIDs(es []*ledger.SyncLogEntry) []string {
	ids := make([]string, 0, len(es))
	for _, e := range es {
		ids = append(ids, e.ID)
	}
	return ids
}
