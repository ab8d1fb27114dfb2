package infra

import (
	"context"
	"errors"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] = lock, ARGV[1] = token do dono
const releaseLockLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// KEYS[1] = índice da tag, ARGV[1] = ttl (ms, 0 = sem expiração), ARGV[2..] = membros
//
// O índice nunca expira antes da chave mais longa que ele referencia.
const addToTagLua = `
local cur = redis.call("PTTL", KEYS[1])
redis.call("SADD", KEYS[1], unpack(ARGV, 2))
local ttl = tonumber(ARGV[1])
if ttl == 0 then
	redis.call("PERSIST", KEYS[1])
elseif cur == -2 or (cur >= 0 and cur < ttl) then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

const defaultScanCount = 200

// RedisCacheStore implementa domain.CacheStore.
//
// Valores passam por go-redis/cache sem cache local: um L1 por processo guardaria
// cópias que a invalidação feita por outra instância não alcança.
type RedisCacheStore struct {
	rdb       redis.UniversalClient
	values    *cache.Cache
	release   *redis.Script
	addToTag  *redis.Script
	scanCount int64
}

type RedisCacheOption func(*RedisCacheStore)

func WithScanCount(n int64) RedisCacheOption {
	return func(s *RedisCacheStore) { s.scanCount = n }
}

var _ domain.CacheStore = (*RedisCacheStore)(nil)

func NewRedisCacheStore(rdb redis.UniversalClient, opts ...RedisCacheOption) *RedisCacheStore {
	s := &RedisCacheStore{
		rdb: rdb,
		values: cache.New(&cache.Options{
			Redis: rdb,
		}),
		release:   redis.NewScript(releaseLockLua),
		addToTag:  redis.NewScript(addToTagLua),
		scanCount: defaultScanCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.values.Get(ctx, key, &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return val, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	// go-redis/cache trata TTL <= 0 e < 1s com defaults próprios; esses casos vão direto
	if ttl < time.Second {
		if ttl < 0 {
			ttl = 0
		}
		if err := s.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}

	err := s.values.Set(&cache.Item{
		Ctx:            ctx,
		Key:            key,
		Value:          val,
		TTL:            ttl,
		SkipLocalCache: true,
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisCacheStore) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, val, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (s *RedisCacheStore) DeleteIfEquals(ctx context.Context, key string, val []byte) (bool, error) {
	n, err := s.release.Run(ctx, s.rdb, []string{key}, val).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *RedisCacheStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	// em cluster as chaves podem estar em slots diferentes: um DEL por chave no pipeline
	if _, ok := s.rdb.(*redis.ClusterClient); ok {
		pipe := s.rdb.Pipeline()
		cmds := make([]*redis.IntCmd, 0, len(keys))
		for _, k := range keys {
			cmds = append(cmds, pipe.Del(ctx, k))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, unavailable(err)
		}
		n := 0
		for _, c := range cmds {
			n += int(c.Val())
		}
		return n, nil
	}

	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (s *RedisCacheStore) AddToTag(ctx context.Context, tagKey string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, 0, len(members)+1)
	args = append(args, ttl.Milliseconds())
	for _, m := range members {
		args = append(args, m)
	}
	if err := s.addToTag.Run(ctx, s.rdb, []string{tagKey}, args...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisCacheStore) TagMembers(ctx context.Context, tagKey string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, tagKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

func (s *RedisCacheStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if cc, ok := s.rdb.(*redis.ClusterClient); ok {
		var (
			mu  sync.Mutex
			out []string
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			keys, err := scanNode(ctx, node, pattern, s.scanCount)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, keys...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, unavailable(err)
		}
		return out, nil
	}

	keys, err := scanNode(ctx, s.rdb, pattern, s.scanCount)
	if err != nil {
		return nil, unavailable(err)
	}
	return keys, nil
}

func scanNode(ctx context.Context, c redis.Cmdable, pattern string, count int64) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
