package application

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
)

// RateLimiter concentra a regra do sliding window log.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna um RateLimitResult.
// Toda exclusão é delegada ao passo atômico do WindowCounter.
type RateLimiter struct {
	counter domain.WindowCounter
	logger  *slog.Logger
	warn    *throttledLog
	timeout time.Duration
}

type LimiterOption func(*RateLimiter)

func WithLimiterLogger(l *slog.Logger) LimiterOption {
	return func(r *RateLimiter) { r.logger = l }
}

// WithLimiterTimeout limita cada check; estourar conta como falha do store.
func WithLimiterTimeout(d time.Duration) LimiterOption {
	return func(r *RateLimiter) { r.timeout = d }
}

func NewRateLimiter(counter domain.WindowCounter, opts ...LimiterOption) *RateLimiter {
	r := &RateLimiter{
		counter: counter,
		logger:  slog.Default(),
		timeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.warn = newThrottledLog(r.logger, failOpenLogInterval)
	return r
}

// Check decide a admissão de uma requisição em now.
//
// Falha do store (ou timeout) resulta em allowed=true com Remaining=RemainingUnknown.
// Requisições negadas não ocupam vaga na janela.
func (r *RateLimiter) Check(ctx context.Context, key string, cfg domain.RateLimitConfig, now time.Time) domain.RateLimitResult {
	if r == nil || r.counter == nil || !cfg.Valid() {
		return failOpenResult(cfg, now)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	st, err := r.counter.Admit(ctx, key, domain.WindowRequest{
		Now:    now,
		Window: cfg.Window(),
		Limit:  cfg.Requests,
		Member: windowMember(now),
	})
	rateCheckDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		storeFailures.WithLabelValues("ratelimiter").Inc()
		r.warn.Warn("rate limit store failed, allowing request", "component", "ratelimiter", "key", key, "err", err)
		return failOpenResult(cfg, now)
	}

	resetAt := now.Add(cfg.Window())
	if !st.Oldest.IsZero() {
		resetAt = st.Oldest.Add(cfg.Window())
	}

	if !st.Admitted {
		return domain.RateLimitResult{
			Allowed:   false,
			Limit:     cfg.Requests,
			Remaining: 0,
			ResetAt:   resetAt,
		}
	}

	remaining := cfg.Requests - st.Count - 1
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitResult{
		Allowed:   true,
		Limit:     cfg.Requests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func failOpenResult(cfg domain.RateLimitConfig, now time.Time) domain.RateLimitResult {
	return domain.RateLimitResult{
		Allowed:   true,
		Limit:     cfg.Requests,
		Remaining: domain.RemainingUnknown,
		ResetAt:   now.Add(cfg.Window()),
	}
}

// windowMember: timestamp + sufixo aleatório, duas requisições no mesmo milissegundo
// ocupam membros distintos.
func windowMember(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}
