package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

func main() {
	// Exemplo: injetando a admissão diretamente no seu webserver (sem proxy)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	counter := infra.NewMemoryWindowCounter()
	counter.StartJanitor(ctx)

	resolver, err := application.NewConfigResolver(domain.ResolverConfig{
		Defaults: domain.ModeLimits{
			Test: &domain.RateLimitConfig{Requests: 5, WindowSeconds: 10, IncludeHeaders: true},
			Live: &domain.RateLimitConfig{Requests: 50, WindowSeconds: 10, IncludeHeaders: true},
		},
		CacheTTL: map[string]int{"short": 30},
	})
	if err != nil {
		logger.Error("invalid admission config", "err", err)
		os.Exit(1)
	}

	keys := domain.NewKeyBuilder(domain.DefaultNamespace)
	engine := application.NewCacheEngine(infra.NewMemoryCacheStore(),
		application.WithEngineLogger(logger),
		application.WithKeyBuilder(keys),
	)
	stats := infra.NewMemoryStatsStore(infra.WithTrackTenants(true))
	pipeline := application.NewPipeline(
		application.DefaultStages(application.Deps{
			Resolver: resolver,
			Limiter:  application.NewRateLimiter(counter, application.WithLimiterLogger(logger)),
			Engine:   engine,
			Keys:     keys,
		}),
		application.WithStats(stats),
		application.WithPipelineLogger(logger),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		// simula uma leitura lenta do banco
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"id":%q,"at":%q}`+"\n", r.PathValue("id"), time.Now().Format(time.RFC3339Nano))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		total := stats.Total()
		_, _ = fmt.Fprintf(w, "denied=%d hit=%d written=%d passed=%d fail_open=%d\n",
			total.Denied, total.Hit, total.Written, total.Passed, total.FailOpen)
	})

	h := http.Handler(mux)
	h = admission.Middleware(admission.Options{
		Pipeline:           pipeline,
		KeyHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor: true,
		CacheCategories:    map[string]string{"items": "short"},
		Logger:             logger,
	})(h)
	h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{Max: 50})(h)

	root := http.NewServeMux()
	root.Handle("/admin/cache/invalidate", admission.InvalidationHandler(engine, os.Getenv("ADMIN_TOKEN"), logger))
	root.Handle("/", h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
