package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

type Counters struct {
	Denied   int64
	Hit      int64
	Written  int64
	Passed   int64
	FailOpen int64
}

func (c *Counters) add(ev domain.StatsEvent) {
	switch ev.Outcome {
	case domain.OutcomeDenied:
		c.Denied++
	case domain.OutcomeHit:
		c.Hit++
	case domain.OutcomeWritten:
		c.Written++
	default:
		c.Passed++
	}
	if ev.FailOpen {
		c.FailOpen++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu          sync.Mutex
	total       Counters
	byOperation map[string]Counters
	byTenant    map[string]Counters

	trackTenants bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackTenants(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackTenants = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byOperation: make(map[string]Counters),
		byTenant:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.StatsStore = (*MemoryStatsStore)(nil)

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)

	c := s.byOperation[ev.Operation]
	c.add(ev)
	s.byOperation[ev.Operation] = c

	if s.trackTenants {
		t := s.byTenant[ev.Tenant]
		t.add(ev)
		s.byTenant[ev.Tenant] = t
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByOperation() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byOperation))
	for k, v := range s.byOperation {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByTenant() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byTenant))
	for k, v := range s.byTenant {
		out[k] = v
	}
	return out
}
