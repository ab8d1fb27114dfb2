package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeDenied  Outcome = "denied"
	OutcomeHit     Outcome = "hit"
	OutcomeWritten Outcome = "written"
	OutcomePassed  Outcome = "passed"
)

// StatsEvent representa o desfecho de uma admissão.
//
// Observação: cuidado com cardinalidade (Tenant/Operation sem controle podem
// explodir o número de chaves em Redis/Prometheus).
type StatsEvent struct {
	Tenant    string
	Operation string
	Mode      Mode
	Outcome   Outcome
	// FailOpen marca decisões tomadas sem o store.
	FailOpen bool

	At time.Time
}

func (e StatsEvent) Allowed() bool { return e.Outcome != OutcomeDenied }

// StatsStore persiste estatísticas de admissão.
// O pipeline trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
