// Package redisrepo implements remote.Repository on Redis. Each record is a
// JSON string under {prefix}{type}:{id}; a set per type indexes the ids.
package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "records:"

// ErrRecordNotFound is returned by GetRecord for missing keys.
var ErrRecordNotFound = errors.New("record not found")

// Repository is a Redis-backed remote.Repository.
type Repository struct {
	client *redis.Client
	prefix string
}

var _ remote.Repository = (*Repository)(nil)

// New connects to redisURL, e.g. "redis://localhost:6379/0".
func New(ctx context.Context, redisURL, prefix string) (*Repository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Repository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Repository{client: client, prefix: prefix}
}

func (r *Repository) key(collection record.Type, recordID string) string {
	return r.prefix + string(collection) + ":" + recordID
}

func (r *Repository) indexKey(collection record.Type) string {
	return r.prefix + "index:" + string(collection)
}

func (r *Repository) PutRecord(ctx context.Context, collection record.Type, recordID string, payload record.Payload) error {
	if err := record.Check(collection, payload); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, err)
	}
	data, err := record.Encode(payload)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, fmt.Errorf("marshal record: %w", err))
	}
	if data == nil {
		return syncErrors.NewValidationError(syncErrors.OpReplicate, fmt.Errorf("put %s/%s: payload is required", collection, recordID))
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(collection, recordID), data, 0)
		pipe.SAdd(ctx, r.indexKey(collection), recordID)
		return nil
	})
	if err != nil {
		return r.wrap(err)
	}
	return nil
}

func (r *Repository) DeleteRecord(ctx context.Context, collection record.Type, recordID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(collection, recordID))
		pipe.SRem(ctx, r.indexKey(collection), recordID)
		return nil
	})
	if err != nil {
		return r.wrap(err)
	}
	return nil
}

// GetRecord loads a record written by PutRecord.
func (r *Repository) GetRecord(ctx context.Context, collection record.Type, recordID string) (record.Payload, error) {
	data, err := r.client.Get(ctx, r.key(collection, recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, syncErrors.NewNotFoundError(syncErrors.OpLoad, fmt.Errorf("%s/%s: %w", collection, recordID, ErrRecordNotFound))
	}
	if err != nil {
		return nil, r.wrap(err)
	}
	return record.Decode(collection, data)
}

// ListRecordIDs returns the ids stored for collection in sorted order.
func (r *Repository) ListRecordIDs(ctx context.Context, collection record.Type) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey(collection)).Result()
	if err != nil {
		return nil, r.wrap(err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the Redis client.
func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return syncErrors.NewNetworkError(syncErrors.OpReplicate, fmt.Errorf("redis: %w", err))
}
