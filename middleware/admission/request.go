package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"

	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
)

const (
	HeaderTenant    = "X-Tenant-ID"
	HeaderAPIKey    = "X-Api-Key"
	HeaderRequestID = "X-Request-ID"
)

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// DefaultOperation: método + padrão da rota quando o mux já roteou, senão o path.
func DefaultOperation(r *http.Request) string {
	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return r.Method + " " + path
		}
		return r.Method + " " + r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

// DefaultResourceGroup é o primeiro segmento do path, ignorando prefixos de versão (v1, v2...).
func DefaultResourceGroup(r *http.Request) string {
	for _, seg := range strings.Split(strings.Trim(r.URL.Path, "/"), "/") {
		if seg == "" || versionSegment.MatchString(seg) {
			continue
		}
		return seg
	}
	return "root"
}

// ModeFromAPIKey: chaves "test_..." ou "sk_test_..." operam no modo test.
func ModeFromAPIKey(key string) domain.Mode {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "test_") || strings.HasPrefix(key, "sk_test_") {
		return domain.ModeTest
	}
	return domain.ModeLive
}

func apiKey(r *http.Request, header string) string {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return ""
}

// credentialHeaders são os headers que autenticam o chamador no upstream.
var credentialHeaders = []string{"Authorization", "Cookie"}

// credentialDigest resume as credenciais da requisição. Vazio quando a requisição é anônima.
func credentialDigest(r *http.Request, apiKeyHeader string) string {
	h := sha256.New()
	found := false
	for _, name := range append([]string{apiKeyHeader}, credentialHeaders...) {
		v := strings.TrimSpace(r.Header.Get(name))
		if v != "" {
			found = true
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	if !found {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// cacheIdentifier: método, path, query ordenada e o digest da credencial, quando houver.
// Chamadores com credenciais diferentes nunca compartilham entrada.
func cacheIdentifier(r *http.Request, credential string) string {
	id := r.Method + " " + r.URL.Path
	if q := r.URL.Query(); len(q) > 0 {
		// Encode ordena as chaves: mesma query em outra ordem é o mesmo recurso
		id += "?" + q.Encode()
	}
	if credential != "" {
		id += " cred=" + credential
	}
	return id
}

func bypassCache(r *http.Request) bool {
	cc := strings.ToLower(r.Header.Get("Cache-Control"))
	return strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store")
}

func (o *Options) requestContext(r *http.Request) domain.RequestContext {
	tenant := strings.TrimSpace(r.Header.Get(o.TenantHeader))
	if tenant == "" {
		tenant = o.KeyFn(r)
	}
	requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req := domain.RequestContext{
		TenantID:      tenant,
		RequestID:     requestID,
		OperationID:   o.OperationFn(r),
		ResourceGroup: o.ResourceGroupFn(r),
		Mode:          ModeFromAPIKey(apiKey(r, o.APIKeyHeader)),
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if category, ok := o.CacheCategories[req.ResourceGroup]; ok {
			req.CacheCategory = category
			req.CacheIdentifier = cacheIdentifier(r, credentialDigest(r, o.APIKeyHeader))
			req.BypassCache = bypassCache(r)
		}
	}
	return req
}
