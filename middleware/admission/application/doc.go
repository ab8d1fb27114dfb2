// Package application contém os casos de uso de admissão: resolução de configuração,
// rate limit por janela deslizante, cache-aside com proteção contra stampede e o
// pipeline que os orquestra por requisição.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis.
// Ex.: RateLimiter.Check(ctx, key, cfg, now) retorna um RateLimitResult (allow/deny + reset).
package application
