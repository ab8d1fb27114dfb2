package infra

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryCacheStore implementa domain.CacheStore em memória, para testes e dev.
// Expiração é avaliada na leitura contra o relógio configurado.
type MemoryCacheStore struct {
	mu    sync.Mutex
	items map[string]memItem
	tags  map[string]*memTag
	now   func() time.Time
}

type memItem struct {
	val      []byte
	expireAt time.Time // zero = sem expiração
}

type memTag struct {
	members  map[string]struct{}
	expireAt time.Time
}

type MemoryCacheOption func(*MemoryCacheStore)

// WithMemoryClock troca o relógio usado para TTL (útil em testes).
func WithMemoryClock(now func() time.Time) MemoryCacheOption {
	return func(s *MemoryCacheStore) { s.now = now }
}

func NewMemoryCacheStore(opts ...MemoryCacheOption) *MemoryCacheStore {
	s := &MemoryCacheStore{
		items: make(map[string]memItem),
		tags:  make(map[string]*memTag),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.CacheStore = (*MemoryCacheStore)(nil)

func expired(at, now time.Time) bool { return !at.IsZero() && !at.After(now) }

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// lookup deve ser chamado com mu travado.
func (s *MemoryCacheStore) lookup(key string) (memItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return memItem{}, false
	}
	if expired(it.expireAt, s.now()) {
		delete(s.items, key)
		return memItem{}, false
	}
	return it, true
}

func (s *MemoryCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return bytes.Clone(it.val), nil
}

func (s *MemoryCacheStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = memItem{val: bytes.Clone(val), expireAt: expiry(s.now(), ttl)}
	return nil
}

func (s *MemoryCacheStore) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.items[key] = memItem{val: bytes.Clone(val), expireAt: expiry(s.now(), ttl)}
	return true, nil
}

func (s *MemoryCacheStore) DeleteIfEquals(ctx context.Context, key string, val []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok || !bytes.Equal(it.val, val) {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

func (s *MemoryCacheStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, k := range keys {
		if _, ok := s.lookup(k); ok {
			delete(s.items, k)
			n++
			continue
		}
		if t, ok := s.tags[k]; ok {
			if !expired(t.expireAt, s.now()) {
				n++
			}
			delete(s.tags, k)
		}
	}
	return n, nil
}

func (s *MemoryCacheStore) AddToTag(ctx context.Context, tagKey string, ttl time.Duration, members ...string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t, ok := s.tags[tagKey]
	if ok && expired(t.expireAt, now) {
		ok = false
	}
	if !ok {
		t = &memTag{members: make(map[string]struct{}), expireAt: expiry(now, ttl)}
		s.tags[tagKey] = t
	}
	for _, m := range members {
		t.members[m] = struct{}{}
	}

	// o índice nunca expira antes da chave mais longa que ele referencia
	switch {
	case ttl <= 0:
		t.expireAt = time.Time{}
	case !t.expireAt.IsZero() && t.expireAt.Before(now.Add(ttl)):
		t.expireAt = now.Add(ttl)
	}
	return nil
}

func (s *MemoryCacheStore) TagMembers(ctx context.Context, tagKey string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tags[tagKey]
	if !ok || expired(t.expireAt, s.now()) {
		return nil, nil
	}
	out := make([]string, 0, len(t.members))
	for m := range t.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryCacheStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []string
	for k, it := range s.items {
		if expired(it.expireAt, now) {
			continue
		}
		if matchGlob(pattern, k) {
			out = append(out, k)
		}
	}
	for k, t := range s.tags {
		if expired(t.expireAt, now) {
			continue
		}
		if matchGlob(pattern, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
