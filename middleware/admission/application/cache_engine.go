package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Parâmetros da espera pelo lock de outro caller. A espera total fica abaixo do
// TTL do lock: quem desiste computa direto antes do lock expirar sozinho.
const (
	DefaultLockTTL         = 5 * time.Second
	DefaultLockWaitInitial = 25 * time.Millisecond
	DefaultLockWaitMax     = 250 * time.Millisecond
	DefaultLockWaitTotal   = 2 * time.Second

	deleteBatchSize = 500
)

// ComputeFunc produz o valor serializado em caso de miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Source indica de onde veio o valor de um Load.
type Source int

const (
	SourceCache Source = iota
	SourceComputed
)

type Lookup struct {
	Value  []byte
	Source Source
	// Stored indica que este caller gravou o valor no cache.
	Stored bool
}

type skipStore struct {
	value []byte
	cause error
}

func (s *skipStore) Error() string {
	if s.cause != nil {
		return "value not cacheable: " + s.cause.Error()
	}
	return "value not cacheable"
}

func (s *skipStore) Unwrap() error { return s.cause }

// SkipStore é retornado por uma ComputeFunc cujo resultado deve chegar ao caller
// sem ser gravado (ex: resposta HTTP não-2xx).
func SkipStore(value []byte, cause error) error {
	return &skipStore{value: value, cause: cause}
}

var errLockAcquired = errors.New("cache lock acquired while waiting")

// CacheEngine implementa cache-aside sobre um CacheStore compartilhado.
//
// Leituras e escritas são best-effort: falhas do store viram miss/no-op e nunca
// chegam ao chamador. No máximo um compute por chave fica em voo entre processos,
// via CacheLock (SET NX com TTL curto); dentro do processo as cargas são coalescidas.
type CacheEngine struct {
	store  domain.CacheStore
	keys   domain.KeyBuilder
	logger *slog.Logger
	warn   *throttledLog

	lockTTL     time.Duration
	waitInitial time.Duration
	waitMax     time.Duration
	waitTotal   time.Duration
	opTimeout   time.Duration

	group singleflight.Group
}

type EngineOption func(*CacheEngine)

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *CacheEngine) { e.logger = l }
}

func WithKeyBuilder(kb domain.KeyBuilder) EngineOption {
	return func(e *CacheEngine) { e.keys = kb }
}

func WithLockTTL(d time.Duration) EngineOption {
	return func(e *CacheEngine) { e.lockTTL = d }
}

func WithLockWait(initial, max, total time.Duration) EngineOption {
	return func(e *CacheEngine) {
		e.waitInitial = initial
		e.waitMax = max
		e.waitTotal = total
	}
}

// WithStoreTimeout limita cada chamada individual ao store.
func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *CacheEngine) { e.opTimeout = d }
}

func NewCacheEngine(store domain.CacheStore, opts ...EngineOption) *CacheEngine {
	e := &CacheEngine{
		store:       store,
		keys:        domain.NewKeyBuilder(domain.DefaultNamespace),
		logger:      slog.Default(),
		lockTTL:     DefaultLockTTL,
		waitInitial: DefaultLockWaitInitial,
		waitMax:     DefaultLockWaitMax,
		waitTotal:   DefaultLockWaitTotal,
		opTimeout:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.warn = newThrottledLog(e.logger, failOpenLogInterval)
	return e
}

func (e *CacheEngine) Keys() domain.KeyBuilder { return e.keys }

func (e *CacheEngine) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.opTimeout)
}

func (e *CacheEngine) storeFailed(op, key string, err error) {
	storeFailures.WithLabelValues("cache").Inc()
	e.warn.Warn("cache store failed", "component", "cache", "op", op, "key", key, "err", err)
}

// Get nunca retorna erro: chave ausente, expirada ou store indisponível são miss.
func (e *CacheEngine) Get(ctx context.Context, key string) ([]byte, bool) {
	val, ok := e.get(ctx, key)
	if ok {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
	return val, ok
}

func (e *CacheEngine) get(ctx context.Context, key string) ([]byte, bool) {
	if e == nil || e.store == nil {
		return nil, false
	}
	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	val, err := e.store.Get(opCtx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			e.storeFailed("get", key, err)
		}
		return nil, false
	}
	return val, true
}

// Set grava o valor (TTL 0 = sem expiração) e registra a chave no índice de cada tag.
// Retorna false se alguma escrita falhou; o erro é apenas logado.
func (e *CacheEngine) Set(ctx context.Context, key string, val []byte, opts domain.CacheOptions) bool {
	if e == nil || e.store == nil {
		return false
	}
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	if err := e.store.Set(opCtx, key, val, ttl); err != nil {
		e.storeFailed("set", key, err)
		return false
	}

	ok := true
	seen := make(map[string]struct{}, len(opts.Tags))
	for _, tag := range opts.Tags {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		if err := e.store.AddToTag(opCtx, e.keys.Tag(tag), ttl, key); err != nil {
			e.storeFailed("tag", key, err)
			ok = false
		}
	}
	return ok
}

// GetOrCompute é o cache-aside com proteção contra stampede.
func (e *CacheEngine) GetOrCompute(ctx context.Context, key string, opts domain.CacheOptions, compute ComputeFunc) ([]byte, error) {
	if val, ok := e.Get(ctx, key); ok {
		return val, nil
	}
	l, err := e.Load(ctx, key, opts, compute)
	if err != nil {
		return nil, err
	}
	return l.Value, nil
}

// Load executa o caminho de miss: lock, compute, gravação e liberação.
// Callers concorrentes no mesmo processo compartilham a mesma carga.
func (e *CacheEngine) Load(ctx context.Context, key string, opts domain.CacheOptions, compute ComputeFunc) (Lookup, error) {
	if e == nil || e.store == nil {
		return e.compute(ctx, key, opts, compute, false)
	}

	ch := e.group.DoChan(key, func() (v any, err error) {
		// o compute roda na goroutine do singleflight; um panic ali não teria quem recuperasse
		defer func() {
			if r := recover(); r != nil {
				err = &computePanic{value: r, stack: debug.Stack()}
			}
		}()
		return e.fill(ctx, key, opts, compute)
	})

	select {
	case <-ctx.Done():
		return Lookup{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			cacheRequestsCoalesced.Inc()
		}
		if res.Err != nil {
			var p *computePanic
			if errors.As(res.Err, &p) {
				// repassa o panic original na goroutine do caller (ex: http.ErrAbortHandler)
				panic(p.value)
			}
			// a carga de outro caller foi cancelada pelo contexto dele; tenta a própria
			if isContextErr(res.Err) && ctx.Err() == nil {
				return e.fill(ctx, key, opts, compute)
			}
			return Lookup{}, res.Err
		}
		l := res.Val.(Lookup)
		if res.Shared {
			l.Stored = false
		}
		return l, nil
	}
}

// Refresh computa sem consultar o cache e grava o resultado (write-through).
func (e *CacheEngine) Refresh(ctx context.Context, key string, opts domain.CacheOptions, compute ComputeFunc) (Lookup, error) {
	return e.compute(ctx, key, opts, compute, e != nil && e.store != nil)
}

func (e *CacheEngine) fill(ctx context.Context, key string, opts domain.CacheOptions, compute ComputeFunc) (Lookup, error) {
	lockKey := e.keys.Lock(key)
	token := []byte(uuid.NewString())

	acquired, err := e.acquire(ctx, lockKey, token)
	if err != nil {
		// sem store não há exclusão possível; computa direto
		return e.compute(ctx, key, opts, compute, true)
	}

	if !acquired {
		cacheLockWaits.Inc()
		val, err := e.waitFor(ctx, key, lockKey, token)
		switch {
		case err == nil:
			return Lookup{Value: val, Source: SourceCache}, nil
		case errors.Is(err, errLockAcquired):
			acquired = true
		case ctx.Err() != nil:
			return Lookup{}, ctx.Err()
		default:
			cacheStampedeFallthrough.Inc()
			e.logger.Debug("cache lock wait exhausted, computing directly", "key", key, "err", err)
			return e.compute(ctx, key, opts, compute, true)
		}
	}

	defer e.release(ctx, lockKey, token)

	// outro caller pode ter gravado entre o nosso miss e o lock
	if val, ok := e.get(ctx, key); ok {
		return Lookup{Value: val, Source: SourceCache}, nil
	}
	return e.compute(ctx, key, opts, compute, true)
}

func (e *CacheEngine) compute(ctx context.Context, key string, opts domain.CacheOptions, compute ComputeFunc, store bool) (Lookup, error) {
	cacheComputes.Inc()
	val, err := compute(ctx)
	if err != nil {
		var skip *skipStore
		if errors.As(err, &skip) {
			return Lookup{Value: skip.value, Source: SourceComputed}, nil
		}
		return Lookup{}, err
	}
	l := Lookup{Value: val, Source: SourceComputed}
	if store && e != nil {
		l.Stored = e.Set(ctx, key, val, opts)
	}
	return l, nil
}

func (e *CacheEngine) acquire(ctx context.Context, lockKey string, token []byte) (bool, error) {
	opCtx, cancel := e.opCtx(ctx)
	defer cancel()

	ok, err := e.store.SetNX(opCtx, lockKey, token, e.lockTTL)
	if err != nil {
		e.storeFailed("lock", lockKey, err)
		return false, err
	}
	return ok, nil
}

// release é o caminho rápido; o TTL do lock é a rede de segurança.
func (e *CacheEngine) release(ctx context.Context, lockKey string, token []byte) {
	opCtx, cancel := e.opCtx(context.WithoutCancel(ctx))
	defer cancel()

	if _, err := e.store.DeleteIfEquals(opCtx, lockKey, token); err != nil {
		e.storeFailed("unlock", lockKey, err)
	}
}

// waitFor faz polling da chave com backoff exponencial limitado.
// Se o dono do lock sumir sem gravar, este caller tenta assumir o lock.
func (e *CacheEngine) waitFor(ctx context.Context, key, lockKey string, token []byte) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.waitInitial
	b.MaxInterval = e.waitMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.2

	val, err := backoff.Retry(ctx, func() ([]byte, error) {
		if v, ok := e.get(ctx, key); ok {
			return v, nil
		}
		acquired, err := e.acquire(ctx, lockKey, token)
		if err == nil && acquired {
			return nil, backoff.Permanent(errLockAcquired)
		}
		return nil, domain.ErrCacheMiss
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(e.waitTotal))
	if err == nil {
		return val, nil
	}
	if errors.Is(err, errLockAcquired) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrStampedeTimeout, key)
}

// InvalidateByPattern remove toda chave que casa com o glob.
func (e *CacheEngine) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := e.store.Scan(ctx, pattern)
	if err != nil {
		e.storeFailed("scan", pattern, err)
		return 0, fmt.Errorf("invalidate pattern %q: %w", pattern, err)
	}
	n, err := e.deleteKeys(ctx, keys)
	if err != nil {
		return n, fmt.Errorf("invalidate pattern %q: %w", pattern, err)
	}
	return n, nil
}

// InvalidateByTag remove todas as chaves do índice da tag e depois o próprio índice.
func (e *CacheEngine) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	tagKey := e.keys.Tag(tag)
	members, err := e.store.TagMembers(ctx, tagKey)
	if err != nil {
		e.storeFailed("tag_members", tagKey, err)
		return 0, fmt.Errorf("invalidate tag %q: %w", tag, err)
	}
	n, err := e.deleteKeys(ctx, members)
	if err != nil {
		return n, fmt.Errorf("invalidate tag %q: %w", tag, err)
	}
	if _, err := e.store.Delete(ctx, tagKey); err != nil {
		e.storeFailed("delete", tagKey, err)
		return n, fmt.Errorf("invalidate tag %q: %w", tag, err)
	}
	return n, nil
}

// Delete remove uma chave do cache (best-effort).
func (e *CacheEngine) Delete(ctx context.Context, key string) {
	if _, err := e.deleteKeys(ctx, []string{key}); err != nil {
		e.storeFailed("delete", key, err)
	}
}

func (e *CacheEngine) deleteKeys(ctx context.Context, keys []string) (int, error) {
	total := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		n, err := e.store.Delete(ctx, keys[start:end]...)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// computePanic carrega um panic do compute até a goroutine de quem chamou Load.
type computePanic struct {
	value any
	stack []byte
}

func (p *computePanic) Error() string {
	return fmt.Sprintf("cache compute panicked: %v\n%s", p.value, p.stack)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
