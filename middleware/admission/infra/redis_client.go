package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig concentra conexão e timeouts. ReadTimeout/WriteTimeout limitam cada
// comando: estourar vira falha do store, nunca um request pendurado.
type RedisConfig struct {
	URL      string
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MaxRetries   int
}

func (c RedisConfig) options() (*redis.Options, error) {
	var opt *redis.Options
	if strings.TrimSpace(c.URL) != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opt = parsed
	} else {
		if strings.TrimSpace(c.Addr) == "" {
			return nil, fmt.Errorf("redis addr or url is required")
		}
		opt = &redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		}
	}
	if c.DialTimeout > 0 {
		opt.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		opt.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		opt.WriteTimeout = c.WriteTimeout
	}
	if c.PoolSize > 0 {
		opt.PoolSize = c.PoolSize
	}
	if c.MaxRetries != 0 {
		opt.MaxRetries = c.MaxRetries
	}
	return opt, nil
}

// NewRedisClient cria o client e confere a conexão com PING.
//
// Um Redis fora do ar no startup é erro; depois disso as falhas viram fail-open.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opt, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return rdb, nil
}
