package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// at converte segundos desde uma época fixa em time.Time.
func at(sec float64) time.Time {
	return time.Unix(1_700_000_000, 0).Add(time.Duration(sec * float64(time.Second)))
}

type failingCounter struct{ err error }

func (f failingCounter) Admit(context.Context, string, domain.WindowRequest) (domain.WindowState, error) {
	return domain.WindowState{}, f.err
}

// flakyStore embrulha um CacheStore e falha as operações marcadas.
type flakyStore struct {
	domain.CacheStore

	mu      sync.Mutex
	failGet bool
	failSet bool
	failNX  bool
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, domain.ErrStoreUnavailable
	}
	return s.CacheStore.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	fail := s.failSet
	s.mu.Unlock()
	if fail {
		return domain.ErrStoreUnavailable
	}
	return s.CacheStore.Set(ctx, key, val, ttl)
}

func (s *flakyStore) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	fail := s.failNX
	s.mu.Unlock()
	if fail {
		return false, domain.ErrStoreUnavailable
	}
	return s.CacheStore.SetNX(ctx, key, val, ttl)
}
