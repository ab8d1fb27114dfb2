package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"math"
	"time"
)

type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// RemainingUnknown é o valor de Remaining quando o store não respondeu (fail-open).
const RemainingUnknown = -1

type RateLimitConfig struct {
	Requests       int  `yaml:"requests"`
	WindowSeconds  int  `yaml:"window_seconds"`
	IncludeHeaders bool `yaml:"include_headers"`
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c RateLimitConfig) Valid() bool {
	return c.Requests > 0 && c.WindowSeconds > 0
}

// RateLimitResult é produzido a cada check e não é persistido.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Unknown indica que a decisão foi tomada sem consultar o store.
func (r RateLimitResult) Unknown() bool { return r.Remaining == RemainingUnknown }

// RetryAfter arredonda para cima em segundos, nunca menor que 1s.
func (r RateLimitResult) RetryAfter(now time.Time) time.Duration {
	secs := math.Ceil(r.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// WindowRequest descreve um passo atômico de admissão na janela deslizante.
type WindowRequest struct {
	Now    time.Time
	Window time.Duration
	Limit  int
	// Member identifica unicamente a entrada (timestamp + sufixo aleatório).
	Member string
}

type WindowState struct {
	Admitted bool
	// Count é a cardinalidade após o prune e antes de inserir a nova entrada.
	Count int
	// Oldest é o timestamp da entrada mais antiga que sobreviveu (incluindo a nova, se admitida).
	Oldest time.Time
}

// WindowCounter é o "ordered counter" do sliding window log.
//
// Admit deve executar prune + count + (add + expire) como uma unidade atômica:
// duas chamadas concorrentes na mesma chave nunca podem ambas ler Count abaixo do
// limite quando só resta uma vaga. Entradas com score <= Now-Window são removidas
// (borda exclusiva; ver DESIGN.md, "Open Question decisions", item 1).
type WindowCounter interface {
	Admit(ctx context.Context, key string, req WindowRequest) (WindowState, error)
}

// ModeLimits guarda limites por modo. All vale para ambos quando o modo específico não existe.
type ModeLimits struct {
	Test *RateLimitConfig `yaml:"test"`
	Live *RateLimitConfig `yaml:"live"`
	All  *RateLimitConfig `yaml:"all"`
}

func (m ModeLimits) For(mode Mode) (RateLimitConfig, bool) {
	switch mode {
	case ModeTest:
		if m.Test != nil {
			return *m.Test, true
		}
	case ModeLive:
		if m.Live != nil {
			return *m.Live, true
		}
	}
	if m.All != nil {
		return *m.All, true
	}
	return RateLimitConfig{}, false
}

// ResolverConfig é o mapa de configuração carregado no startup (somente leitura depois).
type ResolverConfig struct {
	Operations map[string]ModeLimits `yaml:"operations"`
	Groups     map[string]ModeLimits `yaml:"groups"`
	Defaults   ModeLimits            `yaml:"defaults"`

	CacheTTL        map[string]int `yaml:"cache_ttl"`
	DefaultCacheTTL int            `yaml:"default_cache_ttl"`
}
