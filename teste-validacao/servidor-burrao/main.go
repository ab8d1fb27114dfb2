package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// Upstream falso para validar o gateway à mão: conta quantas vezes cada rota
// foi realmente executada, o que mostra se o cache e o lock anti-stampede seguraram.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	delay := 300 * time.Millisecond
	if v := os.Getenv("UPSTREAM_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			delay = d
		}
	}

	var hits atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		time.Sleep(delay)
		logger.Info("upstream hit", "path", r.URL.Path, "tenant", r.Header.Get("X-Tenant-ID"), "hits", n)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   r.PathValue("id"),
			"hits": n,
			"at":   time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	mux.HandleFunc("POST /v1/items", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /hits", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int64{"hits": hits.Load()})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger.Info("fake upstream listening", "addr", addr, "delay", delay)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
