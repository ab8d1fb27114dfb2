package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por tenant.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackTenants bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackTenants(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackTenants = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "adm:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.StatsStore = (*RedisStatsStore)(nil)

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Outcome)
	if field == "" {
		field = string(domain.OutcomePassed)
	}

	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)
	if ev.FailOpen {
		pipe.HIncrBy(ctx, totalKey, "fail_open", 1)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if op := strings.TrimSpace(ev.Operation); op != "" {
		pipe.HIncrBy(ctx, s.prefix+":operation", op+":"+field, 1)
	}

	if s.trackTenants {
		if t := strings.TrimSpace(ev.Tenant); t != "" {
			tenantKey := s.prefix + ":tenant:" + t
			pipe.HIncrBy(ctx, tenantKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, tenantKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
