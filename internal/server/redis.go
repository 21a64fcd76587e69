// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces registry keys.
const DefaultRedisPrefix = "amlsession:"

// RedisRegistry stores sessions in Redis so several dev servers can share
// them. Each session key carries a TTL equal to its idle timeout; Touch
// rewrites the record and resets the TTL unless the key is already gone.
type RedisRegistry struct {
	client redis.Cmdable
	closer func() error
	prefix string
	clock  clockwork.Clock
}

// NewRedisRegistry connects to rawURL (redis:// or rediss://) and pings it.
func NewRedisRegistry(ctx context.Context, rawURL string, clock clockwork.Clock) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	r := NewRedisRegistryWithClient(client, DefaultRedisPrefix, clock)
	r.closer = client.Close
	return r, nil
}

// NewRedisRegistryWithClient wraps an existing client. The caller keeps
// ownership of client.
func NewRedisRegistryWithClient(client redis.Cmdable, prefix string, clock clockwork.Clock) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisRegistry{client: client, prefix: prefix, clock: clock}
}

func (r *RedisRegistry) sessionKey(id string) string { return r.prefix + "session:" + id }
func (r *RedisRegistry) userKey(name string) string  { return r.prefix + "user:" + name }

func (r *RedisRegistry) Create(ctx context.Context, username string, maxInactive time.Duration) (*Record, error) {
	now := r.clock.Now()
	rec := &Record{
		ID:           newSessionID(),
		Username:     username,
		CreatedAt:    now,
		LastAccessed: now,
		MaxInactive:  maxInactive,
	}

	old, err := r.client.Get(ctx, r.userKey(username)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to look up user session: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if old != "" {
			pipe.Del(ctx, r.sessionKey(old))
		}
		pipe.Set(ctx, r.sessionKey(rec.ID), data, maxInactive)
		pipe.Set(ctx, r.userKey(username), rec.ID, maxInactive)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return rec, nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Record, error) {
	val, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if rec.Expired(r.clock.Now()) {
		return nil, ErrNoSession
	}
	return &rec, nil
}

func (r *RedisRegistry) Touch(ctx context.Context, id string) (*Record, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.LastAccessed = r.clock.Now()
	if err := r.rewrite(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// rewrite stores rec and resets its TTLs, but only while the session key
// still exists: a concurrent Delete wins over a Touch.
func (r *RedisRegistry) rewrite(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	var set *redis.BoolCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.SetXX(ctx, r.sessionKey(rec.ID), data, rec.MaxInactive)
		pipe.Expire(ctx, r.userKey(rec.Username), rec.MaxInactive)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if !set.Val() {
		return ErrNoSession
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	rec, err := r.Get(ctx, id)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(id))
		pipe.Del(ctx, r.userKey(rec.Username))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Count scans the session keyspace. Fine for a dev server, not for large
// deployments.
func (r *RedisRegistry) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"session:*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (r *RedisRegistry) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
