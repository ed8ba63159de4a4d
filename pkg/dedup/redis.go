/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultKeyPrefix namespaces dedup keys in a shared Redis.
	DefaultKeyPrefix = "alarm-escalator:dedup:"

	reservedValue   = "reserved"
	committedPrefix = "issue:"
)

// releaseScript deletes a key only while it still holds a reservation.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures the shared Redis client.
type RedisOptions struct {
	Address     string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// NewRedisClient creates a client for opts. The connection is checked lazily.
func NewRedisClient(opts RedisOptions) *redis.Client {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  dialTimeout,
		WriteTimeout: dialTimeout,
		MaxRetries:   0,
	})
}

// RedisStore shares dedup state between executions using SETNX.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix selects DefaultKeyPrefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Reserve claims key with SETNX. When the key is taken and already
// committed, the recorded issue key is returned with the refusal.
func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (Reservation, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, reservedValue, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("redis SETNX: %w", err)
	}
	if ok {
		return Reservation{Reserved: true}, nil
	}
	issueKey, _, err := s.issueKey(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	return Reservation{IssueKey: issueKey}, nil
}

func (s *RedisStore) Commit(ctx context.Context, key, issueKey string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, committedPrefix+issueKey, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, reservedValue).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (s *RedisStore) Name() string { return "redis" }

// issueKey returns the issue recorded for key by a previous commit.
func (s *RedisStore) issueKey(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET: %w", err)
	}
	if !strings.HasPrefix(v, committedPrefix) {
		return "", false, nil
	}
	return strings.TrimPrefix(v, committedPrefix), true, nil
}
