package domain

import (
	"context"
	"net/http"
	"time"
)

// CacheOptions controla a escrita. TTL 0 grava sem expiração.
type CacheOptions struct {
	TTL  time.Duration
	Tags []string
}

// CacheStore é o subconjunto do store usado pelo cache-aside.
//
// Implementações devem ser transparentes byte a byte: Get retorna exatamente o que
// foi passado para Set. Erros de transporte devem embrulhar ErrStoreUnavailable.
type CacheStore interface {
	// Get retorna ErrCacheMiss quando a chave não existe ou expirou.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetNX grava apenas se a chave não existir (usado para CacheLock).
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	// DeleteIfEquals remove a chave somente se o valor atual for val (liberação do lock pelo dono).
	DeleteIfEquals(ctx context.Context, key string, val []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) (int, error)

	// AddToTag registra membros no índice da tag. O índice não expira antes de ttl
	// (ttl 0 remove a expiração do índice).
	AddToTag(ctx context.Context, tagKey string, ttl time.Duration, members ...string) error
	TagMembers(ctx context.Context, tagKey string) ([]string, error)

	// Scan enumera chaves que casam com o glob.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// CachedResponse é o valor guardado pelo pipeline HTTP para uma resposta 2xx.
type CachedResponse struct {
	Status int         `msgpack:"s"`
	Header http.Header `msgpack:"h"`
	Body   []byte      `msgpack:"b"`
}
