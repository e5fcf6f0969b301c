package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/service/cache"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Cache holds CLI flags for the query result cache
type Cache struct {
	backend       string
	ttl           time.Duration
	maxEntries    int
	redisAddr     string
	redisPassword string
	redisDB       int
}

// Flags returns CLI flags for cache configuration
func (x *Cache) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cache-backend",
			Usage:       "Query cache backend (memory or redis)",
			Value:       "memory",
			Category:    "Cache",
			Sources:     cli.EnvVars("MNEMOSYNE_CACHE_BACKEND"),
			Destination: &x.backend,
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Usage:       "Lifetime of cached query results",
			Value:       cache.DefaultTTL,
			Category:    "Cache",
			Sources:     cli.EnvVars("MNEMOSYNE_CACHE_TTL"),
			Destination: &x.ttl,
		},
		&cli.IntFlag{
			Name:        "cache-max-entries",
			Usage:       "Maximum entries of the memory cache",
			Value:       cache.DefaultMaxEntries,
			Category:    "Cache",
			Sources:     cli.EnvVars("MNEMOSYNE_CACHE_MAX_ENTRIES"),
			Destination: &x.maxEntries,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address (host:port)",
			Category:    "Cache",
			Sources:     cli.EnvVars("MNEMOSYNE_REDIS_ADDR"),
			Destination: &x.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Category:    "Cache",
			Sources:     cli.EnvVars("MNEMOSYNE_REDIS_PASSWORD"),
			Destination: &x.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Category:    "Cache",
			Sources:     cli.EnvVars("MNEMOSYNE_REDIS_DB"),
			Destination: &x.redisDB,
		},
	}
}

// LogAttrs returns log attributes for the cache configuration
func (x *Cache) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("backend", x.backend),
		slog.Duration("ttl", x.ttl),
		slog.String("redis_addr", x.redisAddr),
	}
}

// Configure creates the query cache. The returned function releases the Redis
// connection.
func (x *Cache) Configure(ctx context.Context) (interfaces.QueryCache, func(), error) {
	if x.ttl <= 0 {
		return nil, nil, goerr.New("cache TTL must be positive", goerr.V("ttl", x.ttl))
	}

	switch x.backend {
	case "memory":
		if x.maxEntries <= 0 {
			return nil, nil, goerr.New("cache max entries must be positive", goerr.V("max_entries", x.maxEntries))
		}
		pruneTo := x.maxEntries * cache.DefaultPruneTo / cache.DefaultMaxEntries
		return cache.NewMemory(cache.WithTTL(x.ttl), cache.WithMaxEntries(x.maxEntries, pruneTo)), func() {}, nil

	case "redis":
		if x.redisAddr == "" {
			return nil, nil, goerr.New("redis-addr is required when using redis cache")
		}
		client, err := cache.Connect(ctx, x.redisAddr, x.redisPassword, x.redisDB)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := client.Close(); err != nil {
				logging.Default().Error("failed to close redis client", "error", err.Error())
			}
		}
		return cache.NewRedis(client, cache.WithRedisTTL(x.ttl)), closer, nil

	default:
		return nil, nil, goerr.New("invalid cache backend", goerr.V("backend", x.backend))
	}
}
