package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EffectiveCache caches resolved per-user permission sets. It is a pure
// read-path accelerator: misses and failures fall back to recomputation, and
// every mutation invalidates the affected entries.
type EffectiveCache interface {
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, permissions []string) error
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

// effectiveCacheRepository implements EffectiveCache over Redis
type effectiveCacheRepository struct {
	client     *redis.Client
	expiration time.Duration
}

// NewEffectiveCacheRepository creates a new effective permission cache
func NewEffectiveCacheRepository(client *redis.Client) EffectiveCache {
	return &effectiveCacheRepository{
		client:     client,
		expiration: 60 * time.Second,
	}
}

func (r *effectiveCacheRepository) Get(ctx context.Context, userID string) ([]string, bool, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached permissions: %w", err)
	}

	var permissions []string
	if err := json.Unmarshal(data, &permissions); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached permissions: %w", err)
	}

	return permissions, true, nil
}

func (r *effectiveCacheRepository) Set(ctx context.Context, userID string, permissions []string) error {
	data, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	if err := r.client.Set(ctx, r.key(userID), data, r.expiration).Err(); err != nil {
		return fmt.Errorf("failed to cache permissions: %w", err)
	}

	return nil
}

func (r *effectiveCacheRepository) InvalidateUser(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached permissions: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached set. Used after role-level changes, which
// can affect any number of users.
func (r *effectiveCacheRepository) InvalidateAll(ctx context.Context) error {
	var keys []string

	iter := r.client.Scan(ctx, 0, "perm:effective:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

func (r *effectiveCacheRepository) key(userID string) string {
	return "perm:effective:" + userID
}
