package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

const defaultKeyPrefix = "mnemosyne:query:"

// Redis is a query cache shared by every server instance connected to the same
// Redis database.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisOption is a functional option for Redis
type RedisOption func(*Redis)

// WithRedisTTL sets the expiry of stored results
func WithRedisTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = d
	}
}

// WithKeyPrefix namespaces keys in a shared Redis
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a Redis query cache on an existing client
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    DefaultTTL,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect opens a Redis client and verifies the connection
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to ping redis", goerr.V("addr", addr), goerr.V("db", db))
	}
	return client, nil
}

// key hashes the cache key so arbitrary query text stays within key limits
func (r *Redis) key(key string) string {
	sum := sha256.Sum256([]byte(key))
	return r.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached result or nil on a miss
func (r *Redis) Get(ctx context.Context, key string) (*model.QueryResult, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get cached query result")
	}

	var result model.QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, goerr.Wrap(err, "failed to decode cached query result")
	}
	return &result, nil
}

// Set stores result with the configured TTL
func (r *Redis) Set(ctx context.Context, key string, result *model.QueryResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return goerr.Wrap(err, "failed to encode query result")
	}
	if err := r.client.Set(ctx, r.key(key), payload, r.ttl).Err(); err != nil {
		return goerr.Wrap(err, "failed to cache query result")
	}
	return nil
}
