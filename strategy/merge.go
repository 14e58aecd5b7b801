package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// MergePosts starts from remote, takes local text and media when the local
// edit is strictly newer, unions reactions and merges comments by id with
// the later CreatedAt winning.
func MergePosts(local, remote *record.Post) *record.Post {
	out := record.Clone(remote).(*record.Post)

	if local.LastModified().After(remote.LastModified()) {
		out.Text = local.Text
		out.Media = append([]string(nil), local.Media...)
		out.EditedAt = local.LastModified()
	}
	out.Reactions = union(remote.Reactions, local.Reactions)
	out.Comments = mergeComments(remote.Comments, local.Comments)
	return out
}

// MergeProfiles starts from remote and takes each non-empty local field
// when local was updated more recently. Follower lists are unioned.
func MergeProfiles(local, remote *record.Profile) *record.Profile {
	out := record.Clone(remote).(*record.Profile)

	if local.UpdatedAt.After(remote.UpdatedAt) {
		if local.DisplayName != "" {
			out.DisplayName = local.DisplayName
		}
		if local.Description != "" {
			out.Description = local.Description
		}
		if local.Avatar != "" {
			out.Avatar = local.Avatar
		}
		out.UpdatedAt = local.UpdatedAt
	}
	out.Followers = union(remote.Followers, local.Followers)
	out.Following = union(remote.Following, local.Following)
	return out
}

// PostResolver adapts MergePosts to Resolver.
var PostResolver = ResolverFunc(func(_ context.Context, local, remote record.Payload) (record.Payload, error) {
	l, r, both, err := pair[*record.Post](local, remote)
	if err != nil {
		return nil, err
	}
	if !both {
		return either(local, remote), nil
	}
	return MergePosts(l, r), nil
})

// ProfileResolver adapts MergeProfiles to Resolver.
var ProfileResolver = ResolverFunc(func(_ context.Context, local, remote record.Payload) (record.Payload, error) {
	l, r, both, err := pair[*record.Profile](local, remote)
	if err != nil {
		return nil, err
	}
	if !both {
		return either(local, remote), nil
	}
	return MergeProfiles(l, r), nil
})

// pair asserts both payloads to T. both is false when either side is
// absent.
func pair[T record.Payload](local, remote record.Payload) (l, r T, both bool, err error) {
	if !record.IsAbsent(local) {
		v, ok := local.(T)
		if !ok {
			return l, r, false, fmt.Errorf("%w: local version is %T, want %T", ErrUnrecoverable, local, l)
		}
		l = v
	}
	if !record.IsAbsent(remote) {
		v, ok := remote.(T)
		if !ok {
			return l, r, false, fmt.Errorf("%w: remote version is %T, want %T", ErrUnrecoverable, remote, r)
		}
		r = v
	}
	return l, r, !record.IsAbsent(local) && !record.IsAbsent(remote), nil
}

// either returns whichever side is present, preferring remote.
func either(local, remote record.Payload) record.Payload {
	if !record.IsAbsent(remote) {
		return record.Clone(remote)
	}
	if !record.IsAbsent(local) {
		return record.Clone(local)
	}
	return nil
}

// union returns a followed by the elements of b not in a, without
// duplicates.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func mergeComments(remote, local []record.Comment) []record.Comment {
	if len(remote) == 0 && len(local) == 0 {
		return nil
	}
	byID := make(map[string]record.Comment, len(remote)+len(local))
	for _, list := range [][]record.Comment{remote, local} {
		for _, c := range list {
			if cur, ok := byID[c.ID]; ok && !c.CreatedAt.After(cur.CreatedAt) {
				continue
			}
			byID[c.ID] = c
		}
	}

	out := make([]record.Comment, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
