package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// ConcurrencyService limita requisições em voo neste processo, antes do pipeline
// de admissão, sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Sem Pool, sempre libera.
// - Com AcquireTimeout <= 0, espera até o ctx da requisição encerrar.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if !ok {
		concurrencyRejected.Inc()
		return nil, false
	}
	return release, true
}
