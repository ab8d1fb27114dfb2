package application

import (
	"fmt"

	"admission-gateway/middleware/admission/domain"
)

// FallbackRateLimit é usado quando nada no mapa de configuração cobre a requisição.
var FallbackRateLimit = domain.RateLimitConfig{
	Requests:       100,
	WindowSeconds:  60,
	IncludeHeaders: true,
}

const FallbackCacheTTL = 60

// ConfigResolver é pura consulta de configuração: sem I/O, determinística e
// sem efeitos colaterais.
type ConfigResolver struct {
	cfg domain.ResolverConfig
}

// NewConfigResolver valida o mapa e copia as entradas, para que alterações
// posteriores no mapa do chamador não mudem as decisões.
func NewConfigResolver(cfg domain.ResolverConfig) (*ConfigResolver, error) {
	if err := ValidateResolverConfig(cfg); err != nil {
		return nil, err
	}
	out := domain.ResolverConfig{
		Operations:      make(map[string]domain.ModeLimits, len(cfg.Operations)),
		Groups:          make(map[string]domain.ModeLimits, len(cfg.Groups)),
		Defaults:        cloneModeLimits(cfg.Defaults),
		CacheTTL:        make(map[string]int, len(cfg.CacheTTL)),
		DefaultCacheTTL: cfg.DefaultCacheTTL,
	}
	for k, v := range cfg.Operations {
		out.Operations[k] = cloneModeLimits(v)
	}
	for k, v := range cfg.Groups {
		out.Groups[k] = cloneModeLimits(v)
	}
	for k, v := range cfg.CacheTTL {
		out.CacheTTL[k] = v
	}
	if out.DefaultCacheTTL == 0 {
		out.DefaultCacheTTL = FallbackCacheTTL
	}
	return &ConfigResolver{cfg: out}, nil
}

// cloneModeLimits copia os configs apontados, não só os ponteiros.
func cloneModeLimits(m domain.ModeLimits) domain.ModeLimits {
	clone := func(c *domain.RateLimitConfig) *domain.RateLimitConfig {
		if c == nil {
			return nil
		}
		cp := *c
		return &cp
	}
	return domain.ModeLimits{Test: clone(m.Test), Live: clone(m.Live), All: clone(m.All)}
}

// Resolve: operação > resource group > default do modo > fallback fixo.
func (r *ConfigResolver) Resolve(operationID, resourceGroupID string, mode domain.Mode) domain.RateLimitConfig {
	if r == nil {
		return FallbackRateLimit
	}
	if ml, ok := r.cfg.Operations[operationID]; ok && operationID != "" {
		if c, ok := ml.For(mode); ok {
			return c
		}
	}
	if ml, ok := r.cfg.Groups[resourceGroupID]; ok && resourceGroupID != "" {
		if c, ok := ml.For(mode); ok {
			return c
		}
	}
	if c, ok := r.cfg.Defaults.For(mode); ok {
		return c
	}
	return FallbackRateLimit
}

// ResolveCacheTTL retorna o TTL em segundos da categoria; 0 significa sem expiração.
func (r *ConfigResolver) ResolveCacheTTL(category string) int {
	if r == nil {
		return FallbackCacheTTL
	}
	if ttl, ok := r.cfg.CacheTTL[category]; ok {
		return ttl
	}
	return r.cfg.DefaultCacheTTL
}

func ValidateResolverConfig(cfg domain.ResolverConfig) error {
	check := func(scope, name string, ml domain.ModeLimits) error {
		for mode, c := range map[string]*domain.RateLimitConfig{"test": ml.Test, "live": ml.Live, "all": ml.All} {
			if c != nil && !c.Valid() {
				return fmt.Errorf("%w: %s %q mode %s needs requests > 0 and window_seconds > 0", domain.ErrInvalidConfig, scope, name, mode)
			}
		}
		return nil
	}
	for name, ml := range cfg.Operations {
		if err := check("operation", name, ml); err != nil {
			return err
		}
	}
	for name, ml := range cfg.Groups {
		if err := check("group", name, ml); err != nil {
			return err
		}
	}
	if err := check("defaults", "", cfg.Defaults); err != nil {
		return err
	}
	for category, ttl := range cfg.CacheTTL {
		if ttl < 0 {
			return fmt.Errorf("%w: cache ttl for %q must be >= 0", domain.ErrInvalidConfig, category)
		}
	}
	if cfg.DefaultCacheTTL < 0 {
		return fmt.Errorf("%w: default cache ttl must be >= 0", domain.ErrInvalidConfig)
	}
	return nil
}
