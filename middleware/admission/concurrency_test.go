package admission

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdingHandler segura a vaga até release ser fechado.
func holdingHandler() (http.Handler, chan struct{}, chan struct{}) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	})
	return h, started, release
}

func TestConcurrencyMiddleware_TimesOutWhenNoSlot(t *testing.T) {
	next, started, release := holdingHandler()
	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Max:            1,
		AcquireTimeout: 25 * time.Millisecond,
	})(next)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "http://example/", nil).Code)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		close(release)
		wg.Wait()
		t.Fatal("timeout waiting first request to start")
	}

	// a primeira ainda segura a vaga
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "http://example/", nil).Code)

	close(release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "http://example/", nil).Code)
}

func TestConcurrencyMiddleware_RejectionDoesNotConsumeRateLimit(t *testing.T) {
	f, p := newFixture(t, domain.RateLimitConfig{Requests: 2, WindowSeconds: 10})
	next, started, release := holdingHandler()

	h := Middleware(Options{Pipeline: p, Logger: quietLogger()})(next)
	h = ConcurrencyMiddleware(ConcurrencyOptions{Max: 1, AcquireTimeout: 10 * time.Millisecond, RejectStatus: http.StatusTooManyRequests})(h)
	tenant := map[string]string{HeaderTenant: "t1"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(h, http.MethodGet, "http://example/", tenant)
	}()
	<-started

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "http://example/", tenant).Code)
	}
	close(release)
	wg.Wait()

	// só a primeira passou pela admissão: ainda resta uma vaga na janela
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "http://example/", tenant).Code)
	require.EqualValues(t, 2, f.stats.Total().Passed)
	assert.Zero(t, f.stats.Total().Denied)
}

func TestConcurrencyMiddleware_DisabledWithoutMax(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := ConcurrencyMiddleware(ConcurrencyOptions{})(next)

	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodGet, "http://example/", nil).Code)
}
