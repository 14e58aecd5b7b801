package redisrepo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

func newTestRepo(t *testing.T) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, ""), mr
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t)

	profile := &record.Profile{ID: "u1", DisplayName: "Alice", Followers: []string{"u2"}}
	require.NoError(t, repo.PutRecord(ctx, record.TypeProfile, "u1", profile))

	assert.True(t, mr.Exists("records:profile:u1"))
	ok, err := mr.SIsMember("records:index:profile", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetRecord(ctx, record.TypeProfile, "u1")
	require.NoError(t, err)
	assert.True(t, record.Equal(profile, got))

	ids, err := repo.ListRecordIDs(ctx, record.TypeProfile)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	require.NoError(t, repo.DeleteRecord(ctx, record.TypeProfile, "u1"))
	assert.False(t, mr.Exists("records:profile:u1"))

	_, err = repo.GetRecord(ctx, record.TypeProfile, "u1")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeNotFound))
}

func TestPutRecordValidation(t *testing.T) {
	repo, _ := newTestRepo(t)
	err := repo.PutRecord(context.Background(), record.TypeMessage, "m1", &record.Post{ID: "p"})
	assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeValidationFailure))
}

func TestCustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := NewWithClient(client, "lena:")
	require.NoError(t, repo.PutRecord(context.Background(), record.TypeMedia, "m1", &record.Media{ID: "m1", Hash: "abc"}))
	assert.True(t, mr.Exists("lena:media:m1"))
}

func TestServerDownIsRetryable(t *testing.T) {
	repo, mr := newTestRepo(t)
	mr.Close()

	err := repo.PutRecord(context.Background(), record.TypeMedia, "m1", &record.Media{ID: "m1"})
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
}

func TestNewConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	repo, err := New(context.Background(), "redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.PutRecord(context.Background(), record.TypePost, "p1", &record.Post{ID: "p1"}))

	_, err = New(context.Background(), "://bad", "")
	assert.Error(t, err)
}
