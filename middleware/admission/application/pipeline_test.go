package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	pipeline *Pipeline
	engine   *CacheEngine
	stats    *infra.MemoryStatsStore
	clock    *fakeClock
	keys     domain.KeyBuilder
}

func newPipelineFixture(t *testing.T, cfg domain.ResolverConfig, counter domain.WindowCounter) *pipelineFixture {
	t.Helper()

	resolver, err := NewConfigResolver(cfg)
	require.NoError(t, err)

	clock := &fakeClock{now: at(0)}
	keys := domain.NewKeyBuilder("test")
	engine := newTestEngine(infra.NewMemoryCacheStore(infra.WithMemoryClock(clock.Now)), WithKeyBuilder(keys))
	stats := infra.NewMemoryStatsStore(infra.WithTrackTenants(true))

	p := NewPipeline(DefaultStages(Deps{
		Resolver: resolver,
		Limiter:  NewRateLimiter(counter, WithLimiterLogger(discardLogger())),
		Engine:   engine,
		Keys:     keys,
	}), WithStats(stats), WithPipelineLogger(discardLogger()), WithClock(clock.Now))

	return &pipelineFixture{pipeline: p, engine: engine, stats: stats, clock: clock, keys: keys}
}

func cacheableRequest() domain.RequestContext {
	return domain.RequestContext{
		TenantID:        "t1",
		RequestID:       "r1",
		OperationID:     "GET /v1/items/{id}",
		ResourceGroup:   "items",
		Mode:            domain.ModeLive,
		CacheCategory:   "short",
		CacheIdentifier: "GET /v1/items/42",
	}
}

func countingHandler(calls *atomic.Int64, body string) Handler {
	return func(context.Context, *Admission) ([]byte, error) {
		calls.Add(1)
		return []byte(body), nil
	}
}

func TestPipeline_MissThenHit(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{
		Defaults: domain.ModeLimits{All: limit(10, 60)},
		CacheTTL: map[string]int{"short": 30},
	}, infra.NewMemoryWindowCounter())
	ctx := context.Background()

	var calls atomic.Int64
	a, err := f.pipeline.Run(ctx, cacheableRequest(), countingHandler(&calls, "payload"))
	require.NoError(t, err)
	assert.Equal(t, PhaseCacheWritten, a.Phase)
	assert.True(t, a.Computed)
	assert.Equal(t, []byte("payload"), a.Value)
	assert.Equal(t, 30*time.Second, a.CacheOptions.TTL)
	assert.Equal(t, "test:cache:items:t1:live:GET /v1/items/42", a.CacheKey)
	assert.Equal(t, "test:rl:live:t1:GET /v1/items/{id}", a.RateKey)
	assert.ElementsMatch(t, []string{"tenant/t1", "group/t1/items"}, a.CacheOptions.Tags)

	a, err = f.pipeline.Run(ctx, cacheableRequest(), countingHandler(&calls, "other"))
	require.NoError(t, err)
	assert.Equal(t, PhaseCacheHit, a.Phase)
	assert.False(t, a.Computed)
	assert.Equal(t, []byte("payload"), a.Value)
	assert.EqualValues(t, 1, calls.Load())

	total := f.stats.Total()
	assert.EqualValues(t, 1, total.Written)
	assert.EqualValues(t, 1, total.Hit)
}

func TestPipeline_ModesDoNotShareCacheEntries(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{
		Defaults: domain.ModeLimits{All: limit(10, 60)},
		CacheTTL: map[string]int{"short": 30},
	}, infra.NewMemoryWindowCounter())
	ctx := context.Background()

	var calls atomic.Int64
	live, err := f.pipeline.Run(ctx, cacheableRequest(), countingHandler(&calls, "live"))
	require.NoError(t, err)

	req := cacheableRequest()
	req.Mode = domain.ModeTest
	test, err := f.pipeline.Run(ctx, req, countingHandler(&calls, "test"))
	require.NoError(t, err)

	assert.Equal(t, PhaseCacheWritten, test.Phase)
	assert.Equal(t, []byte("test"), test.Value)
	assert.NotEqual(t, live.CacheKey, test.CacheKey)
	assert.Equal(t, "test:cache:items:t1:test:GET /v1/items/42", test.CacheKey)
	assert.EqualValues(t, 2, calls.Load())

	// a invalidação por tenant continua cobrindo os dois modos
	n, err := f.engine.InvalidateByPattern(ctx, f.keys.Pattern(domain.PrefixCache, "", "t1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPipeline_ExpiredEntryIsRecomputed(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{
		Defaults: domain.ModeLimits{All: limit(10, 60)},
		CacheTTL: map[string]int{"short": 30},
	}, infra.NewMemoryWindowCounter())

	var calls atomic.Int64
	_, err := f.pipeline.Run(context.Background(), cacheableRequest(), countingHandler(&calls, "v"))
	require.NoError(t, err)

	f.clock.Advance(31 * time.Second)
	a, err := f.pipeline.Run(context.Background(), cacheableRequest(), countingHandler(&calls, "v"))
	require.NoError(t, err)
	assert.Equal(t, PhaseCacheWritten, a.Phase)
	assert.EqualValues(t, 2, calls.Load())
}

func TestPipeline_DeniedShortCircuits(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{
		Defaults: domain.ModeLimits{All: limit(1, 10)},
	}, infra.NewMemoryWindowCounter())
	ctx := context.Background()
	req := cacheableRequest()
	req.CacheCategory = ""

	var calls atomic.Int64
	_, err := f.pipeline.Run(ctx, req, countingHandler(&calls, "v"))
	require.NoError(t, err)

	f.clock.Advance(2500 * time.Millisecond)
	a, err := f.pipeline.Run(ctx, req, countingHandler(&calls, "v"))
	require.Error(t, err)

	var exceeded *domain.RateLimitExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, PhaseDenied, a.Phase)
	assert.Equal(t, 8*time.Second, exceeded.RetryAfter)
	assert.True(t, exceeded.Retryable())
	assert.Equal(t, at(10), exceeded.Result.ResetAt)
	assert.EqualValues(t, 1, calls.Load(), "handler never runs for a denied request")

	total := f.stats.Total()
	assert.EqualValues(t, 1, total.Denied)
	assert.EqualValues(t, 1, total.Passed)
	assert.EqualValues(t, 1, f.stats.ByTenant()["t1"].Denied)
}

func TestPipeline_DeniedBeforeCacheLookup(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{
		Defaults: domain.ModeLimits{All: limit(1, 10)},
	}, infra.NewMemoryWindowCounter())
	ctx := context.Background()

	var calls atomic.Int64
	_, err := f.pipeline.Run(ctx, cacheableRequest(), countingHandler(&calls, "v"))
	require.NoError(t, err)

	// o valor está em cache, mas a negação vem antes
	a, err := f.pipeline.Run(ctx, cacheableRequest(), countingHandler(&calls, "v"))
	require.Error(t, err)
	assert.Equal(t, PhaseDenied, a.Phase)
	assert.Nil(t, a.Value)
}

func TestPipeline_NonCacheableRequestPassesThrough(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{}, infra.NewMemoryWindowCounter())
	req := cacheableRequest()
	req.CacheCategory = ""

	var calls atomic.Int64
	for i := 0; i < 2; i++ {
		a, err := f.pipeline.Run(context.Background(), req, countingHandler(&calls, "v"))
		require.NoError(t, err)
		assert.Equal(t, PhaseCompute, a.Phase)
		assert.Equal(t, domain.OutcomePassed, a.Outcome())
		assert.Empty(t, a.CacheKey)
		assert.Equal(t, FallbackRateLimit, a.Config)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestPipeline_BypassSkipsReadButWrites(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{}, infra.NewMemoryWindowCounter())
	ctx := context.Background()

	var calls atomic.Int64
	_, err := f.pipeline.Run(ctx, cacheableRequest(), countingHandler(&calls, "old"))
	require.NoError(t, err)

	req := cacheableRequest()
	req.BypassCache = true
	a, err := f.pipeline.Run(ctx, req, countingHandler(&calls, "new"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), a.Value)
	assert.Equal(t, PhaseCacheWritten, a.Phase)

	a, err = f.pipeline.Run(ctx, cacheableRequest(), countingHandler(&calls, "ignored"))
	require.NoError(t, err)
	assert.Equal(t, PhaseCacheHit, a.Phase)
	assert.Equal(t, []byte("new"), a.Value)
}

func TestPipeline_HandlerErrorPropagates(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{}, infra.NewMemoryWindowCounter())
	boom := errors.New("upstream down")

	_, err := f.pipeline.Run(context.Background(), cacheableRequest(), func(context.Context, *Admission) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	total := f.stats.Total()
	assert.Zero(t, total.Written+total.Passed+total.Hit+total.Denied, "failed runs are not recorded")
}

func TestPipeline_FailOpenStillServes(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{}, failingCounter{err: domain.ErrStoreUnavailable})

	var calls atomic.Int64
	a, err := f.pipeline.Run(context.Background(), cacheableRequest(), countingHandler(&calls, "v"))
	require.NoError(t, err)
	assert.True(t, a.Rate.Allowed)
	assert.True(t, a.Rate.Unknown())
	assert.EqualValues(t, 1, f.stats.Total().FailOpen)
}

func TestPipeline_HandlerSeesRateResult(t *testing.T) {
	f := newPipelineFixture(t, domain.ResolverConfig{
		Defaults: domain.ModeLimits{All: &domain.RateLimitConfig{Requests: 3, WindowSeconds: 10, IncludeHeaders: true}},
	}, infra.NewMemoryWindowCounter())

	var seen domain.RateLimitResult
	_, err := f.pipeline.Run(context.Background(), cacheableRequest(), func(_ context.Context, a *Admission) ([]byte, error) {
		seen = a.Rate
		return []byte("v"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen.Remaining)
	assert.Equal(t, 3, seen.Limit)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "cache_hit", PhaseCacheHit.String())
	assert.Equal(t, "denied", PhaseDenied.String())
	assert.Equal(t, "unknown", Phase(99).String())
}
