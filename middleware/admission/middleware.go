package admission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

type Options struct {
	Pipeline *application.Pipeline

	// Identidade do tenant: TenantHeader; se ausente, KeyFn (header/XFF/RemoteAddr).
	TenantHeader       string
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	// APIKeyHeader define o modo (test/live) pelo prefixo da chave.
	APIKeyHeader string

	OperationFn     func(r *http.Request) string
	ResourceGroupFn func(r *http.Request) string
	// CacheCategories: resource group -> categoria de TTL. Grupos fora do mapa não são cacheados.
	CacheCategories map[string]string

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.TenantHeader == "" {
		o.TenantHeader = HeaderTenant
	}
	if o.KeyFn == nil {
		o.KeyFn = DefaultKeyFunc(o.KeyHeader, o.TrustXForwardedFor)
	}
	if o.APIKeyHeader == "" {
		o.APIKeyHeader = HeaderAPIKey
	}
	if o.OperationFn == nil {
		o.OperationFn = DefaultOperation
	}
	if o.ResourceGroupFn == nil {
		o.ResourceGroupFn = DefaultResourceGroup
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// RejectionBody é o corpo do 429.
type RejectionBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	opts.defaults()

	return func(next http.Handler) http.Handler {
		if opts.Pipeline == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := opts.requestContext(r)
			w.Header().Set(HeaderRequestID, req.RequestID)

			handler := func(ctx context.Context, a *application.Admission) ([]byte, error) {
				if !req.Cacheable() {
					// sem cache: resposta vai direto ao cliente (streaming preservado)
					setRateHeaders(w, a)
					next.ServeHTTP(w, r.WithContext(ctx))
					return nil, nil
				}

				rec := newResponseRecorder()
				next.ServeHTTP(rec, r.WithContext(ctx))
				raw, err := encodeResponse(rec.response())
				if err != nil {
					return nil, err
				}
				if !rec.cacheable() {
					return nil, application.SkipStore(raw, nil)
				}
				return raw, nil
			}

			a, err := opts.Pipeline.Run(r.Context(), req, handler)
			if err != nil {
				var exceeded *domain.RateLimitExceeded
				switch {
				case errors.As(err, &exceeded):
					writeRejection(w, a, exceeded)
				case errors.Is(err, context.Canceled):
					// cliente desistiu; nada a responder
				default:
					opts.Logger.Error("admission pipeline failed", "request_id", req.RequestID, "tenant", req.TenantID, "err", err)
					http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
				}
				return
			}

			if !req.Cacheable() {
				return
			}

			resp, err := decodeResponse(a.Value)
			if err != nil {
				opts.Logger.Warn("cached response undecodable", "request_id", req.RequestID, "key", a.CacheKey, "err", err)
				http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
				return
			}
			setRateHeaders(w, a)
			if a.Phase == application.PhaseCacheHit {
				w.Header().Set("X-Cache", "HIT")
			} else {
				w.Header().Set("X-Cache", "MISS")
			}
			writeResponse(w, resp, r.Method == http.MethodHead)
		})
	}
}

// setRateHeaders só escreve quando a config resolvida pede.
func setRateHeaders(w http.ResponseWriter, a *application.Admission) {
	if a == nil || !a.Config.IncludeHeaders {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", formatInt(a.Rate.Limit))
	if !a.Rate.Unknown() {
		h.Set("X-RateLimit-Remaining", formatInt(a.Rate.Remaining))
	}
	h.Set("X-RateLimit-Reset", formatUnix(a.Rate.ResetAt))
}

func writeRejection(w http.ResponseWriter, a *application.Admission, exceeded *domain.RateLimitExceeded) {
	retryAfter := retryAfterSeconds(exceeded.RetryAfter)

	setRateHeaders(w, a)
	h := w.Header()
	h.Set("Retry-After", formatInt(retryAfter))
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(RejectionBody{
		Code:       "rate_limit_exceeded",
		Message:    "Too many requests, retry after " + formatInt(retryAfter) + " seconds",
		RetryAfter: retryAfter,
	})
}
