package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

func pendingConflict() *Conflict {
	return &Conflict{
		ID:        "c1",
		Type:      record.TypeProfile,
		RecordID:  "u1",
		Local:     &record.Profile{DisplayName: "Alice"},
		Remote:    &record.Profile{DisplayName: "Alicia"},
		Timestamp: time.Now(),
		Status:    ConflictPending,
	}
}

func TestConflictValidate(t *testing.T) {
	c := pendingConflict()
	require.NoError(t, c.Validate())

	c.Resolution = ResolutionLocal
	assert.Error(t, c.Validate(), "resolution requires resolved status")

	c = pendingConflict()
	c.Merged = &record.Profile{}
	assert.Error(t, c.Validate(), "merged requires merged resolution")

	c = pendingConflict()
	c.Local = &record.Post{}
	assert.ErrorIs(t, c.Validate(), record.ErrTypeMismatch)
}

func TestMarkResolved(t *testing.T) {
	now := time.Now()

	c := pendingConflict()
	require.NoError(t, c.MarkResolved(ResolutionRemote, &record.Profile{}, now))
	assert.Nil(t, c.Merged, "merged payload is dropped unless the resolution is merged")
	assert.Equal(t, c.Remote, c.ResolvedPayload())

	err := c.MarkResolved(ResolutionLocal, nil, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ResolutionRemote, c.Resolution)

	c = pendingConflict()
	merged := &record.Profile{DisplayName: "Alice"}
	require.NoError(t, c.MarkResolved(ResolutionMerged, merged, now))
	assert.Same(t, merged, c.ResolvedPayload())

	c = pendingConflict()
	assert.Error(t, c.MarkResolved(ResolutionMerged, nil, now))
}

func TestMarkFailed(t *testing.T) {
	c := pendingConflict()
	require.NoError(t, c.MarkFailed("bad payload", time.Now()))
	assert.Equal(t, ConflictFailed, c.Status)
	assert.Nil(t, c.ResolvedPayload())

	// A failed conflict can still be resolved by a human.
	require.NoError(t, c.MarkResolved(ResolutionLocal, nil, time.Now()))
	assert.ErrorIs(t, c.MarkFailed("late", time.Now()), ErrInvalidTransition)
}

func TestSyncEntryValidate(t *testing.T) {
	e := &SyncLogEntry{ID: "s1", Operation: OpUpdate, Type: record.TypePost, Status: SyncPending, Payload: &record.Post{}}
	require.NoError(t, e.Validate())

	e.Payload = nil
	assert.Error(t, e.Validate())

	e.Operation = OpDelete
	assert.NoError(t, e.Validate())

	e.RetryCount = -1
	assert.Error(t, e.Validate())
}
