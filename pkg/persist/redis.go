// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/abuse"
)

const (
	DefaultPrefix = "portfolio:gateway:"

	revokedSegment = "revoked:"
	blocksSegment  = "blocks"
	scanCount      = 100
)

// RedisConfig configures the Redis backend. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`

	// Queue configures the writer that keeps Redis off the request path.
	Queue AsyncConfig `yaml:"queue"`
}

// Enabled reports whether an address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// client is the subset of *redis.Client the store uses.
type client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

// Redis keeps revocations as expiring string keys and blocks in one hash.
type Redis struct {
	client client
	prefix string
	clock  clock.PassiveClock
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, clk clock.PassiveClock) (*Redis, error) {
	if !cfg.Enabled() {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return newRedis(rdb, cfg.Prefix, clk), nil
}

func newRedis(c client, prefix string, clk clock.PassiveClock) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Redis{client: c, prefix: prefix, clock: clk}
}

func (r *Redis) revokedKey(hash string) string {
	return r.prefix + revokedSegment + hash
}

func (r *Redis) blocksKey() string {
	return r.prefix + blocksSegment
}

// SaveRevocation stores hash until expiresAt. Tokens that have already
// expired are not written; Verify rejects them anyway.
func (r *Redis) SaveRevocation(ctx context.Context, hash string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.clock.Now())
	if expiresAt.IsZero() || ttl <= 0 {
		return nil
	}
	value := expiresAt.UTC().Format(time.RFC3339)
	if err := r.client.Set(ctx, r.revokedKey(hash), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revocation: %w", err)
	}
	return nil
}

// LoadRevocations returns every stored revocation with its expiry.
func (r *Redis) LoadRevocations(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	match := r.revokedKey("*")
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan revocations: %w", err)
		}
		for _, key := range keys {
			value, err := r.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis get revocation: %w", err)
			}
			expiresAt, err := time.Parse(time.RFC3339, value)
			if err != nil {
				continue
			}
			out[strings.TrimPrefix(key, r.revokedKey(""))] = expiresAt
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// SaveBlock stores b in the blocks hash, keyed by IP.
func (r *Redis) SaveBlock(ctx context.Context, b abuse.BlockedClient) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if err := r.client.HSet(ctx, r.blocksKey(), b.IP, data).Err(); err != nil {
		return fmt.Errorf("redis hset block: %w", err)
	}
	return nil
}

// DeleteBlock removes the block of ip.
func (r *Redis) DeleteBlock(ctx context.Context, ip string) error {
	if err := r.client.HDel(ctx, r.blocksKey(), ip).Err(); err != nil {
		return fmt.Errorf("redis hdel block: %w", err)
	}
	return nil
}

// LoadBlocks returns every stored block. Undecodable entries are skipped.
func (r *Redis) LoadBlocks(ctx context.Context) ([]abuse.BlockedClient, error) {
	all, err := r.client.HGetAll(ctx, r.blocksKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall blocks: %w", err)
	}
	out := make([]abuse.BlockedClient, 0, len(all))
	for ip, raw := range all {
		var b abuse.BlockedClient
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			continue
		}
		if b.IP == "" {
			b.IP = ip
		}
		out = append(out, b)
	}
	return out, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
