package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "gateway",
		Usage:   "admission-control reverse proxy (rate limit + response cache)",
		Version: versioninfo.Short(),
		Flags:   flags,
		Action:  runGateway,
	}
	return app.Run(args)
}

func runGateway(cctx *cli.Context) error {
	logger := configureLogging(cctx.String("log-level"), cctx.String("log-format"))

	target, err := url.Parse(cctx.String("upstream-url"))
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL %q: %w", cctx.String("upstream-url"), err)
	}
	if target.Host == "" {
		return fmt.Errorf("invalid UPSTREAM_URL %q: missing host", cctx.String("upstream-url"))
	}

	resolverCfg := domain.ResolverConfig{}
	if path := cctx.String("admission-config"); path != "" {
		resolverCfg, err = infra.LoadResolverConfig(path)
		if err != nil {
			return err
		}
	}
	resolver, err := application.NewConfigResolver(resolverCfg)
	if err != nil {
		return err
	}

	cacheGroups, err := parseCacheGroups(cctx.StringSlice("cache-groups"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	keys := domain.NewKeyBuilder(cctx.String("key-namespace"))
	storeTimeout := cctx.Duration("redis-timeout")

	var (
		counter domain.WindowCounter
		store   domain.CacheStore
		stats   domain.StatsStore
		rdb     *redis.Client
	)
	if cctx.String("redis-url") != "" || cctx.String("redis-addr") != "" {
		rdb, err = infra.NewRedisClient(ctx, infra.RedisConfig{
			URL:          cctx.String("redis-url"),
			Addr:         cctx.String("redis-addr"),
			Password:     cctx.String("redis-password"),
			DB:           cctx.Int("redis-db"),
			DialTimeout:  cctx.Duration("redis-dial-timeout"),
			ReadTimeout:  storeTimeout,
			WriteTimeout: storeTimeout,
			PoolSize:     cctx.Int("redis-pool-size"),
			MaxRetries:   cctx.Int("redis-max-retries"),
		})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		counter = infra.NewRedisWindowCounter(rdb)
		store = infra.NewRedisCacheStore(rdb)
	} else {
		logger.Warn("no redis configured, using in-process stores (state is not shared between instances)")
		mc := infra.NewMemoryWindowCounter()
		mc.StartJanitor(ctx)
		counter = mc
		store = infra.NewMemoryCacheStore()
	}

	if cctx.Bool("rate-stats-enabled") {
		if rdb == nil {
			stats = infra.NewMemoryStatsStore(infra.WithTrackTenants(cctx.Bool("rate-stats-track-tenants")))
		} else {
			stats = infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cctx.String("rate-stats-prefix")),
				infra.WithStatsTTL(cctx.Duration("rate-stats-ttl")),
				infra.WithStatsBucket(cctx.String("rate-stats-bucket")),
				infra.WithStatsTrackTenants(cctx.Bool("rate-stats-track-tenants")),
			)
		}
	}

	limiter := application.NewRateLimiter(counter,
		application.WithLimiterLogger(logger),
		application.WithLimiterTimeout(storeTimeout),
	)
	engine := application.NewCacheEngine(store,
		application.WithEngineLogger(logger),
		application.WithKeyBuilder(keys),
		application.WithStoreTimeout(storeTimeout),
		application.WithLockTTL(cctx.Duration("cache-lock-ttl")),
		application.WithLockWait(application.DefaultLockWaitInitial, application.DefaultLockWaitMax, cctx.Duration("cache-lock-wait")),
	)

	stages := application.DefaultStages(application.Deps{
		Resolver: resolver,
		Limiter:  limiter,
		Engine:   engine,
		Keys:     keys,
	})
	if !cctx.Bool("rate-enabled") {
		// sem rate limit: config → cache → compute
		stages = []application.Stage{stages[0], stages[2], stages[3]}
	}
	pipeline := application.NewPipeline(stages,
		application.WithStats(stats),
		application.WithPipelineLogger(logger),
	)

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", "path", r.URL.Path, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h := http.Handler(proxy)
	h = admission.Middleware(admission.Options{
		Pipeline:           pipeline,
		KeyHeader:          cctx.String("rate-key-header"),
		TrustXForwardedFor: cctx.Bool("trust-xff"),
		CacheCategories:    cacheGroups,
		Logger:             logger,
	})(h)
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
		Max:            cctx.Int("concurrency-max"),
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cctx.Duration("concurrency-timeout"),
	})(h)

	mux := http.NewServeMux()
	mux.Handle("/admin/cache/invalidate", admission.InvalidationHandler(engine, cctx.String("admin-token"), logger))
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cctx.String("listen-addr"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	if addr := cctx.String("metrics-addr"); addr != "" {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, metricsMux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", srv.Addr, "upstream", target.String())
	logger.Info("admission", "rate_enabled", cctx.Bool("rate-enabled"), "redis", rdb != nil, "namespace", keys.Namespace, "cache_groups", cacheGroups)
	logger.Info("concurrency", "max", cctx.Int("concurrency-max"), "acquire_timeout", cctx.Duration("concurrency-timeout"))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// parseCacheGroups lê "grupo=categoria" (ex: items=short,catalog=long).
func parseCacheGroups(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		group, category, ok := strings.Cut(entry, "=")
		group, category = strings.TrimSpace(group), strings.TrimSpace(category)
		if !ok || group == "" || category == "" {
			return nil, fmt.Errorf("invalid CACHE_GROUPS entry %q (want group=category)", entry)
		}
		out[group] = category
	}
	return out, nil
}

func configureLogging(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
