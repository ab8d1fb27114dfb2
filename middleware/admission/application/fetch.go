package application

import (
	"context"

	"admission-gateway/middleware/admission/domain"

	"github.com/vmihailenco/msgpack/v5"
)

// Fetch é o GetOrCompute tipado: o valor trafega serializado em msgpack.
//
// Um valor que não decodifica (ex: gravado por outra versão do tipo) é descartado,
// recomputado e regravado.
func Fetch[T any](ctx context.Context, e *CacheEngine, key string, opts domain.CacheOptions, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := e.GetOrCompute(ctx, key, opts, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return msgpack.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		e.logger.Warn("discarding undecodable cache entry", "key", key, "err", err)
		e.Delete(ctx, key)
		v, err := compute(ctx)
		if err != nil {
			return zero, err
		}
		Store(ctx, e, key, v, opts)
		return v, nil
	}
	return out, nil
}

// Store grava um valor tipado (write-through).
func Store[T any](ctx context.Context, e *CacheEngine, key string, v T, opts domain.CacheOptions) bool {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		e.logger.Warn("cache value not encodable", "key", key, "err", err)
		return false
	}
	return e.Set(ctx, key, raw, opts)
}
