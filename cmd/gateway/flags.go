package main

import (
	"time"

	"admission-gateway/middleware/admission/application"

	cli "github.com/urfave/cli/v2"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   ":8080",
		EnvVars: []string{"LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:     "upstream-url",
		Usage:    "base URL of the business API behind the gateway",
		Required: true,
		EnvVars:  []string{"UPSTREAM_URL"},
	},
	&cli.StringFlag{
		Name:    "admission-config",
		Usage:   "YAML file with per-operation, per-group and per-mode limits and cache TTLs",
		EnvVars: []string{"ADMISSION_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "key-namespace",
		Usage:   "root namespace of every store key",
		Value:   "adm",
		EnvVars: []string{"KEY_NAMESPACE"},
	},
	&cli.BoolFlag{
		Name:    "rate-enabled",
		Value:   true,
		EnvVars: []string{"RATE_ENABLED"},
	},
	&cli.StringFlag{
		Name:    "rate-key-header",
		Usage:   "header identifying the client when X-Tenant-ID is absent",
		EnvVars: []string{"RATE_KEY_HEADER"},
	},
	&cli.BoolFlag{
		Name:    "trust-xff",
		EnvVars: []string{"TRUST_XFF"},
	},
	&cli.StringSliceFlag{
		Name:    "cache-groups",
		Usage:   "cacheable resource groups as group=category",
		EnvVars: []string{"CACHE_GROUPS"},
	},
	&cli.DurationFlag{
		Name:    "cache-lock-ttl",
		Value:   application.DefaultLockTTL,
		EnvVars: []string{"CACHE_LOCK_TTL"},
	},
	&cli.DurationFlag{
		Name:    "cache-lock-wait",
		Usage:   "max time a cache miss waits for another instance's compute",
		Value:   application.DefaultLockWaitTotal,
		EnvVars: []string{"CACHE_LOCK_WAIT"},
	},
	&cli.IntFlag{
		Name:    "concurrency-max",
		Value:   100,
		EnvVars: []string{"CONCURRENCY_MAX"},
	},
	&cli.DurationFlag{
		Name:    "concurrency-timeout",
		EnvVars: []string{"CONCURRENCY_TIMEOUT"},
	},
	&cli.StringFlag{
		Name:    "redis-url",
		EnvVars: []string{"REDIS_URL"},
	},
	&cli.StringFlag{
		Name:    "redis-addr",
		EnvVars: []string{"REDIS_ADDR"},
	},
	&cli.StringFlag{
		Name:    "redis-password",
		EnvVars: []string{"REDIS_PASSWORD"},
	},
	&cli.IntFlag{
		Name:    "redis-db",
		EnvVars: []string{"REDIS_DB"},
	},
	&cli.DurationFlag{
		Name:    "redis-timeout",
		Usage:   "per-command timeout; exceeding it counts as a store failure",
		Value:   250 * time.Millisecond,
		EnvVars: []string{"REDIS_TIMEOUT"},
	},
	&cli.DurationFlag{
		Name:    "redis-dial-timeout",
		Value:   2 * time.Second,
		EnvVars: []string{"REDIS_DIAL_TIMEOUT"},
	},
	&cli.IntFlag{
		Name:    "redis-pool-size",
		EnvVars: []string{"REDIS_POOL_SIZE"},
	},
	&cli.IntFlag{
		Name:    "redis-max-retries",
		Usage:   "command retries inside the client (-1 disables)",
		Value:   1,
		EnvVars: []string{"REDIS_MAX_RETRIES"},
	},
	&cli.BoolFlag{
		Name:    "rate-stats-enabled",
		EnvVars: []string{"RATE_STATS_ENABLED"},
	},
	&cli.StringFlag{
		Name:    "rate-stats-prefix",
		Value:   "adm:stats",
		EnvVars: []string{"RATE_STATS_PREFIX"},
	},
	&cli.DurationFlag{
		Name:    "rate-stats-ttl",
		Value:   24 * time.Hour,
		EnvVars: []string{"RATE_STATS_TTL"},
	},
	&cli.StringFlag{
		Name:    "rate-stats-bucket",
		Value:   "minute",
		EnvVars: []string{"RATE_STATS_BUCKET"},
	},
	&cli.BoolFlag{
		Name:    "rate-stats-track-tenants",
		EnvVars: []string{"RATE_STATS_TRACK_TENANTS"},
	},
	&cli.StringFlag{
		Name:    "admin-token",
		Usage:   "shared token for /admin/cache/invalidate (empty disables it)",
		EnvVars: []string{"ADMIN_TOKEN"},
	},
	&cli.StringFlag{
		Name:    "metrics-addr",
		Value:   ":9090",
		EnvVars: []string{"METRICS_ADDR"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: []string{"LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-format",
		Value:   "json",
		EnvVars: []string{"LOG_FORMAT"},
	},
}
