package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryWindowCounter implementa domain.WindowCounter em memória, com a mesma
// semântica do script Redis. Serve para testes e para um único processo; não
// compartilha estado entre instâncias.
type MemoryWindowCounter struct {
	mu           sync.Mutex
	windows      map[string]*memWindow
	cleanupEvery time.Duration
}

type memWindow struct {
	entries  []memEntry // ordenado por score
	expireAt time.Time
}

type memEntry struct {
	score  int64
	member string
}

type MemoryCounterOption func(*MemoryWindowCounter)

func WithCleanupEvery(d time.Duration) MemoryCounterOption {
	return func(c *MemoryWindowCounter) { c.cleanupEvery = d }
}

func NewMemoryWindowCounter(opts ...MemoryCounterOption) *MemoryWindowCounter {
	c := &MemoryWindowCounter{
		windows:      make(map[string]*memWindow),
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.WindowCounter = (*MemoryWindowCounter)(nil)

func (c *MemoryWindowCounter) Admit(ctx context.Context, key string, req domain.WindowRequest) (domain.WindowState, error) {
	if err := ctx.Err(); err != nil {
		return domain.WindowState{}, unavailable(err)
	}

	nowMs := req.Now.UnixMilli()
	cutoff := nowMs - req.Window.Milliseconds()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if ok && !w.expireAt.After(req.Now) {
		ok = false
	}
	if !ok {
		w = &memWindow{}
		c.windows[key] = w
	}

	// prune: score <= now - window
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].score > cutoff })
	w.entries = w.entries[i:]

	count := len(w.entries)
	if count >= req.Limit {
		st := domain.WindowState{Admitted: false, Count: count}
		if count > 0 {
			st.Oldest = time.UnixMilli(w.entries[0].score)
		}
		if count == 0 {
			delete(c.windows, key)
		}
		return st, nil
	}

	j := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].score > nowMs })
	w.entries = append(w.entries, memEntry{})
	copy(w.entries[j+1:], w.entries[j:])
	w.entries[j] = memEntry{score: nowMs, member: req.Member}
	w.expireAt = req.Now.Add(req.Window)

	return domain.WindowState{
		Admitted: true,
		Count:    count,
		Oldest:   time.UnixMilli(w.entries[0].score),
	}, nil
}

// Len retorna quantas entradas a janela da chave guarda (sem prune).
func (c *MemoryWindowCounter) Len(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[key]; ok {
		return len(w.entries)
	}
	return 0
}

// Cleanup remove janelas cujo expire já passou (equivalente ao PEXPIRE do Redis).
func (c *MemoryWindowCounter) Cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, w := range c.windows {
		if !w.expireAt.After(now) {
			delete(c.windows, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa janelas abandonadas periodicamente.
// Pare cancelando o contexto.
func (c *MemoryWindowCounter) StartJanitor(ctx context.Context) {
	if c.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(c.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				c.Cleanup(now)
			}
		}
	}()
}
