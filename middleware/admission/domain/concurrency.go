package domain

import "context"

// SlotPool limita requisições em voo neste processo.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar. O release
// retornado deve ser chamado exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
