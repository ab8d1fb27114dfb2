package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

type ChanPool struct {
	sem chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria um pool baseado em channel com capacidade `max`.
func NewChanPool(max int) *ChanPool {
	return &ChanPool{sem: make(chan struct{}, max)}
}

// Acquire devolve um release idempotente: chamar duas vezes não libera duas vagas.
func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.sem }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *ChanPool) InFlight() int { return len(p.sem) }

func (p *ChanPool) Capacity() int { return cap(p.sem) }
