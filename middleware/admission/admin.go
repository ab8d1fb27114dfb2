package admission

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

const HeaderAdminToken = "X-Admin-Token"

type InvalidationResult struct {
	Deleted int    `json:"deleted"`
	Tag     string `json:"tag,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// InvalidationHandler expõe a invalidação do cache para operação:
//
//	POST ?tag=<tag>                     -> InvalidateByTag
//	POST ?pattern=<glob>                -> InvalidateByPattern (restrito ao keyspace do cache)
//	POST ?tenant=<id>[&group=<group>]   -> pattern montado pelo KeyBuilder
//
// Token vazio desliga o endpoint.
func InvalidationHandler(engine *application.CacheEngine, token string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	keys := engine.Keys()
	cachePrefix := keys.Root(domain.PrefixCache)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		got := r.Header.Get(HeaderAdminToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		res := InvalidationResult{}
		var err error

		switch {
		case q.Get("tag") != "":
			res.Tag = q.Get("tag")
			res.Deleted, err = engine.InvalidateByTag(r.Context(), res.Tag)
		case q.Get("pattern") != "":
			res.Pattern = q.Get("pattern")
			if !strings.HasPrefix(res.Pattern, cachePrefix+":") {
				http.Error(w, "pattern must target the cache keyspace", http.StatusBadRequest)
				return
			}
			res.Deleted, err = engine.InvalidateByPattern(r.Context(), res.Pattern)
		case q.Get("tenant") != "":
			res.Pattern = keys.Pattern(domain.PrefixCache, q.Get("group"), q.Get("tenant"))
			res.Deleted, err = engine.InvalidateByPattern(r.Context(), res.Pattern)
		default:
			http.Error(w, "one of tag, pattern or tenant is required", http.StatusBadRequest)
			return
		}

		if err != nil {
			logger.Warn("cache invalidation failed", "tag", res.Tag, "pattern", res.Pattern, "err", err)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		logger.Info("cache invalidated", "tag", res.Tag, "pattern", res.Pattern, "deleted", res.Deleted)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
}
