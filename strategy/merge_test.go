package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestMergePostsLocalNewer(t *testing.T) {
	local := &record.Post{
		ID:        "p1",
		Text:      "edited offline",
		Media:     []string{"m1", "m2"},
		Reactions: []string{"like:u1", "love:u2"},
		Comments: []record.Comment{
			{ID: "c1", Text: "first (edited)", CreatedAt: t0.Add(3 * time.Minute)},
			{ID: "c3", Text: "local only", CreatedAt: t0.Add(2 * time.Minute)},
		},
		CreatedAt: t0,
		EditedAt:  t0.Add(10 * time.Minute),
	}
	remote := &record.Post{
		ID:        "p1",
		Text:      "original",
		Media:     []string{"m1"},
		Reactions: []string{"like:u1", "wow:u3"},
		Comments: []record.Comment{
			{ID: "c1", Text: "first", CreatedAt: t0.Add(time.Minute)},
			{ID: "c2", Text: "remote only", CreatedAt: t0.Add(4 * time.Minute)},
		},
		CreatedAt: t0,
		EditedAt:  t0.Add(5 * time.Minute),
	}

	got := MergePosts(local, remote)

	assert.Equal(t, "edited offline", got.Text)
	assert.Equal(t, []string{"m1", "m2"}, got.Media)
	assert.Equal(t, []string{"like:u1", "wow:u3", "love:u2"}, got.Reactions)
	require.Len(t, got.Comments, 3)
	assert.Equal(t, "c3", got.Comments[0].ID)
	assert.Equal(t, "c1", got.Comments[1].ID)
	assert.Equal(t, "first (edited)", got.Comments[1].Text)
	assert.Equal(t, "c2", got.Comments[2].ID)

	// Inputs are untouched.
	assert.Equal(t, "original", remote.Text)
	assert.Len(t, remote.Comments, 2)
}

func TestMergePostsRemoteNewerKeepsRemoteText(t *testing.T) {
	local := &record.Post{ID: "p1", Text: "stale", Media: []string{"x"}, CreatedAt: t0, EditedAt: t0.Add(time.Minute)}
	remote := &record.Post{ID: "p1", Text: "fresh", CreatedAt: t0, EditedAt: t0.Add(time.Hour)}

	got := MergePosts(local, remote)
	assert.Equal(t, "fresh", got.Text)
	assert.Empty(t, got.Media)
}

func TestMergePostsEqualTimesKeepRemote(t *testing.T) {
	local := &record.Post{ID: "p1", Text: "local", CreatedAt: t0}
	remote := &record.Post{ID: "p1", Text: "remote", CreatedAt: t0}

	got := MergePosts(local, remote)
	assert.Equal(t, "remote", got.Text)
}

func TestMergePostsFallsBackToCreatedAt(t *testing.T) {
	local := &record.Post{ID: "p1", Text: "local", CreatedAt: t0.Add(time.Second)}
	remote := &record.Post{ID: "p1", Text: "remote", CreatedAt: t0}

	got := MergePosts(local, remote)
	assert.Equal(t, "local", got.Text)
}

func TestMergePostsKeepsLocalRecency(t *testing.T) {
	local := &record.Post{ID: "p1", Text: "local", CreatedAt: t0.Add(2 * time.Second)}
	remote := &record.Post{ID: "p1", Text: "remote", CreatedAt: t0, EditedAt: t0.Add(time.Second)}

	got := MergePosts(local, remote)
	assert.Equal(t, "local", got.Text)
	assert.True(t, got.LastModified().Equal(t0.Add(2*time.Second)))
	assert.False(t, got.LastModified().Before(remote.LastModified()))
}

func TestMergeCommentsStableOnID(t *testing.T) {
	got := mergeComments(
		[]record.Comment{{ID: "b", CreatedAt: t0}},
		[]record.Comment{{ID: "a", CreatedAt: t0}},
	)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMergeProfilesLocalNewer(t *testing.T) {
	local := &record.Profile{
		ID:          "user-1",
		DisplayName: "Alice B.",
		Description: "",
		Followers:   []string{"u2", "u4"},
		UpdatedAt:   t0.Add(time.Hour),
	}
	remote := &record.Profile{
		ID:          "user-1",
		DisplayName: "Alice",
		Description: "hello",
		Avatar:      "a.png",
		Followers:   []string{"u2", "u3"},
		Following:   []string{"u9"},
		UpdatedAt:   t0,
	}

	got := MergeProfiles(local, remote)

	assert.Equal(t, "Alice B.", got.DisplayName)
	assert.Equal(t, "hello", got.Description, "empty local value never overwrites")
	assert.Equal(t, "a.png", got.Avatar)
	assert.Equal(t, []string{"u2", "u3", "u4"}, got.Followers)
	assert.Equal(t, []string{"u9"}, got.Following)
}

func TestMergeProfilesRemoteNewer(t *testing.T) {
	local := &record.Profile{ID: "user-1", DisplayName: "Old", Following: []string{"u5"}, UpdatedAt: t0}
	remote := &record.Profile{ID: "user-1", DisplayName: "New", UpdatedAt: t0.Add(time.Hour)}

	got := MergeProfiles(local, remote)
	assert.Equal(t, "New", got.DisplayName)
	assert.Equal(t, []string{"u5"}, got.Following)
}

func TestResolversRejectWrongTypes(t *testing.T) {
	ctx := context.Background()

	_, err := PostResolver.Merge(ctx, &record.Message{ID: "m"}, &record.Post{ID: "p"})
	assert.ErrorIs(t, err, ErrUnrecoverable)

	_, err = ProfileResolver.Merge(ctx, &record.Profile{ID: "p"}, &record.Media{ID: "m"})
	assert.ErrorIs(t, err, ErrUnrecoverable)
}

func TestResolversWithAbsentSide(t *testing.T) {
	ctx := context.Background()
	remote := &record.Post{ID: "p", Text: "remote"}

	got, err := PostResolver.Merge(ctx, nil, remote)
	require.NoError(t, err)
	assert.True(t, record.Equal(remote, got))

	got, err = ProfileResolver.Merge(ctx, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnion(t *testing.T) {
	assert.Nil(t, union(nil, nil))
	assert.Equal(t, []string{"a", "b", "c"}, union([]string{"a", "b", "a"}, []string{"c", "b"}))
}
