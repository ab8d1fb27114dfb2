package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable cobre falha de conexão, timeout ou protocolo do store.
	// Nunca é fatal: rate limiter libera e cache trata como miss.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrCacheMiss = errors.New("cache miss")

	// ErrStampedeTimeout é interno: a espera pelo lock acabou e o caller computa direto.
	ErrStampedeTimeout = errors.New("cache stampede wait exhausted")

	ErrInvalidConfig = errors.New("invalid admission config")
)

// RateLimitExceeded é o resultado esperado de uma negação; não é condição de log.
type RateLimitExceeded struct {
	Result     RateLimitResult
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: limit=%d retry after %s", e.Result.Limit, e.RetryAfter)
}

func (e *RateLimitExceeded) Retryable() bool { return true }
