package infra

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// slidingWindowLua executa prune + count + add + expire como uma unidade atômica.
//
// KEYS[1] = chave do contador
// ARGV[1] = now (ms), ARGV[2] = janela (ms), ARGV[3] = limite, ARGV[4] = membro único
//
// Retorna {admitted, count antes de inserir, score da entrada mais antiga}.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)

if count >= limit then
	local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	local score = 0
	if #oldest > 0 then
		score = tonumber(oldest[2])
	end
	return {0, count, score}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
return {1, count, tonumber(oldest[2])}
`

// RedisWindowCounter implementa domain.WindowCounter com um ZSET por chave.
// O script é pré-compilado e roda via EVALSHA (fallback para EVAL).
type RedisWindowCounter struct {
	rdb    redis.UniversalClient
	script *redis.Script
}

var _ domain.WindowCounter = (*RedisWindowCounter)(nil)

func NewRedisWindowCounter(rdb redis.UniversalClient) *RedisWindowCounter {
	return &RedisWindowCounter{
		rdb:    rdb,
		script: redis.NewScript(slidingWindowLua),
	}
}

func (c *RedisWindowCounter) Admit(ctx context.Context, key string, req domain.WindowRequest) (domain.WindowState, error) {
	res, err := c.script.Run(ctx, c.rdb, []string{key},
		req.Now.UnixMilli(),
		req.Window.Milliseconds(),
		req.Limit,
		req.Member,
	).Int64Slice()
	if err != nil {
		return domain.WindowState{}, unavailable(err)
	}
	if len(res) != 3 {
		return domain.WindowState{}, unavailable(errors.New("invalid sliding window script response"))
	}

	st := domain.WindowState{
		Admitted: res[0] == 1,
		Count:    int(res[1]),
	}
	if res[2] > 0 {
		st.Oldest = time.UnixMilli(res[2])
	}
	return st, nil
}
