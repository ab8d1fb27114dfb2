package application

import (
	"context"
	"log/slog"
	"time"

	"admission-gateway/middleware/admission/domain"
)

type Phase int

const (
	PhaseStart Phase = iota
	PhaseConfigResolved
	PhaseRateChecked
	PhaseDenied
	PhaseCacheChecked
	PhaseCacheHit
	PhaseCompute
	PhaseCacheWritten
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseConfigResolved:
		return "config_resolved"
	case PhaseRateChecked:
		return "rate_checked"
	case PhaseDenied:
		return "denied"
	case PhaseCacheChecked:
		return "cache_checked"
	case PhaseCacheHit:
		return "cache_hit"
	case PhaseCompute:
		return "compute"
	case PhaseCacheWritten:
		return "cache_written"
	}
	return "unknown"
}

// Handler é o handler de negócio (colaborador externo) executado quando nada
// interrompe o pipeline. Recebe o estado da admissão (ex: para headers de rate
// limit) e retorna o valor serializado a ser cacheado.
type Handler func(ctx context.Context, a *Admission) ([]byte, error)

// Admission é o estado de uma requisição ao longo do pipeline.
type Admission struct {
	Request domain.RequestContext
	Now     time.Time
	Phase   Phase

	Config domain.RateLimitConfig
	Rate   domain.RateLimitResult

	RateKey      string
	CacheKey     string
	CacheOptions domain.CacheOptions

	Value []byte
	// Computed indica que o handler rodou nesta requisição.
	Computed bool
}

func (a *Admission) Outcome() domain.Outcome {
	switch a.Phase {
	case PhaseDenied:
		return domain.OutcomeDenied
	case PhaseCacheHit:
		return domain.OutcomeHit
	case PhaseCacheWritten:
		return domain.OutcomeWritten
	}
	return domain.OutcomePassed
}

type Verdict int

const (
	Continue Verdict = iota
	ShortCircuit
)

// Stage é uma etapa do pipeline: segue adiante ou encerra a requisição.
type Stage func(ctx context.Context, a *Admission, h Handler) (Verdict, error)

// Deps agrupa os colaboradores dos stages padrão.
type Deps struct {
	Resolver *ConfigResolver
	Limiter  *RateLimiter
	Engine   *CacheEngine
	Keys     domain.KeyBuilder
}

// DefaultStages: config → rate limit → cache → compute.
func DefaultStages(d Deps) []Stage {
	return []Stage{
		ResolveConfigStage(d.Resolver),
		RateCheckStage(d.Limiter, d.Keys),
		CacheCheckStage(d.Engine, d.Resolver, d.Keys),
		ComputeStage(d.Engine),
	}
}

func ResolveConfigStage(r *ConfigResolver) Stage {
	return func(_ context.Context, a *Admission, _ Handler) (Verdict, error) {
		req := a.Request
		a.Config = r.Resolve(req.OperationID, req.ResourceGroup, req.Mode)
		a.Phase = PhaseConfigResolved
		return Continue, nil
	}
}

func RateCheckStage(l *RateLimiter, keys domain.KeyBuilder) Stage {
	return func(ctx context.Context, a *Admission, _ Handler) (Verdict, error) {
		req := a.Request
		a.RateKey = keys.Build(domain.PrefixRateLimit, string(req.Mode), req.TenantID, req.OperationID)
		a.Rate = l.Check(ctx, a.RateKey, a.Config, a.Now)
		if !a.Rate.Allowed {
			a.Phase = PhaseDenied
			return ShortCircuit, &domain.RateLimitExceeded{
				Result:     a.Rate,
				RetryAfter: a.Rate.RetryAfter(a.Now),
			}
		}
		a.Phase = PhaseRateChecked
		return Continue, nil
	}
}

func CacheCheckStage(e *CacheEngine, r *ConfigResolver, keys domain.KeyBuilder) Stage {
	return func(ctx context.Context, a *Admission, _ Handler) (Verdict, error) {
		req := a.Request
		if e == nil || !req.Cacheable() {
			a.Phase = PhaseCacheChecked
			return Continue, nil
		}

		// o modo entra depois do tenant: Pattern(group, tenant) continua cobrindo test e live
		a.CacheKey = keys.Build(domain.PrefixCache, req.ResourceGroup, req.TenantID, string(req.Mode), req.CacheIdentifier)
		tags := []string{domain.TenantTag(req.TenantID)}
		if req.ResourceGroup != "" {
			tags = append(tags, domain.GroupTag(req.TenantID, req.ResourceGroup))
		}
		a.CacheOptions = domain.CacheOptions{
			TTL:  time.Duration(r.ResolveCacheTTL(req.CacheCategory)) * time.Second,
			Tags: append(tags, req.Tags...),
		}

		a.Phase = PhaseCacheChecked
		if req.BypassCache {
			return Continue, nil
		}
		if val, ok := e.Get(ctx, a.CacheKey); ok {
			a.Value = val
			a.Phase = PhaseCacheHit
			return ShortCircuit, nil
		}
		return Continue, nil
	}
}

func ComputeStage(e *CacheEngine) Stage {
	return func(ctx context.Context, a *Admission, h Handler) (Verdict, error) {
		a.Phase = PhaseCompute
		if e == nil || a.CacheKey == "" {
			val, err := h(ctx, a)
			if err != nil {
				return ShortCircuit, err
			}
			a.Value = val
			a.Computed = true
			return ShortCircuit, nil
		}

		computed := false
		fn := func(ctx context.Context) ([]byte, error) {
			computed = true
			return h(ctx, a)
		}
		load := e.Load
		if a.Request.BypassCache {
			load = e.Refresh
		}
		l, err := load(ctx, a.CacheKey, a.CacheOptions, fn)
		if err != nil {
			return ShortCircuit, err
		}
		a.Value = l.Value
		a.Computed = computed
		switch {
		case l.Source == SourceCache:
			a.Phase = PhaseCacheHit
		case l.Stored:
			a.Phase = PhaseCacheWritten
		}
		return ShortCircuit, nil
	}
}

// Pipeline executa os stages em ordem para cada requisição.
type Pipeline struct {
	stages []Stage
	stats  domain.StatsStore
	logger *slog.Logger
	now    func() time.Time
}

type PipelineOption func(*Pipeline)

func WithStats(s domain.StatsStore) PipelineOption {
	return func(p *Pipeline) { p.stats = s }
}

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(stages []Stage, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		stages: stages,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run retorna *domain.RateLimitExceeded quando a requisição é negada; erros do
// handler de negócio são propagados sem alteração.
func (p *Pipeline) Run(ctx context.Context, req domain.RequestContext, h Handler) (*Admission, error) {
	a := &Admission{
		Request: req,
		Now:     p.now(),
		Phase:   PhaseStart,
	}

	var runErr error
	for _, stage := range p.stages {
		v, err := stage(ctx, a, h)
		if err != nil {
			runErr = err
			break
		}
		if v == ShortCircuit {
			break
		}
	}

	if runErr == nil || a.Phase == PhaseDenied {
		p.record(ctx, a)
	}
	return a, runErr
}

func (p *Pipeline) record(ctx context.Context, a *Admission) {
	outcome := a.Outcome()
	admissionOutcomes.WithLabelValues(string(outcome)).Inc()
	if outcome == domain.OutcomeDenied {
		p.logger.Debug("request denied by rate limit",
			"tenant", a.Request.TenantID,
			"operation", a.Request.OperationID,
			"request_id", a.Request.RequestID,
			"reset_at", a.Rate.ResetAt,
		)
	}
	if p.stats == nil {
		return
	}
	err := p.stats.Record(ctx, domain.StatsEvent{
		Tenant:    a.Request.TenantID,
		Operation: a.Request.OperationID,
		Mode:      a.Request.Mode,
		Outcome:   outcome,
		FailOpen:  a.Rate.Unknown(),
		At:        a.Now,
	})
	if err != nil {
		p.logger.Debug("admission stats record failed", "err", err)
	}
}
