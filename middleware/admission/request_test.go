package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOperation(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/v1/items/42?x=1", nil)
	assert.Equal(t, "GET /v1/items/42", DefaultOperation(r))

	r.Pattern = "GET /v1/items/{id}"
	assert.Equal(t, "GET /v1/items/{id}", DefaultOperation(r))

	r.Pattern = "/v1/items/"
	assert.Equal(t, "GET /v1/items/", DefaultOperation(r))
}

func TestDefaultResourceGroup(t *testing.T) {
	cases := map[string]string{
		"http://example/v1/items/42": "items",
		"http://example/v2/orders":   "orders",
		"http://example/catalog/x":   "catalog",
		"http://example/":            "root",
		"http://example/v1/":         "root",
		"http://example/version/1":   "version",
	}
	for target, want := range cases {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		assert.Equal(t, want, DefaultResourceGroup(r), target)
	}
}

func TestModeFromAPIKey(t *testing.T) {
	assert.Equal(t, domain.ModeTest, ModeFromAPIKey("test_abc"))
	assert.Equal(t, domain.ModeTest, ModeFromAPIKey(" sk_test_abc "))
	assert.Equal(t, domain.ModeLive, ModeFromAPIKey("sk_live_abc"))
	assert.Equal(t, domain.ModeLive, ModeFromAPIKey(""))
}

func TestRequestContext_FromHeaders(t *testing.T) {
	opts := Options{CacheCategories: map[string]string{"items": "short"}}
	opts.defaults()

	r := httptest.NewRequest(http.MethodGet, "http://example/v1/items/42?b=2&a=1", nil)
	r.Header.Set(HeaderTenant, " acme ")
	r.Header.Set(HeaderRequestID, "req-1")
	r.Header.Set("Authorization", "Bearer test_123")

	req := opts.requestContext(r)
	assert.Equal(t, "acme", req.TenantID)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "GET /v1/items/42", req.OperationID)
	assert.Equal(t, "items", req.ResourceGroup)
	assert.Equal(t, domain.ModeTest, req.Mode)
	assert.Equal(t, "short", req.CacheCategory)
	assert.Equal(t, "GET /v1/items/42?a=1&b=2 cred="+credentialDigest(r, HeaderAPIKey), req.CacheIdentifier)
	assert.True(t, req.Cacheable())
	assert.False(t, req.BypassCache)
}

func TestRequestContext_Defaults(t *testing.T) {
	opts := Options{}
	opts.defaults()

	r := httptest.NewRequest(http.MethodPost, "http://example/v1/items", nil)
	r.RemoteAddr = "10.0.0.9:5555"

	req := opts.requestContext(r)
	assert.Equal(t, "10.0.0.9", req.TenantID)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, domain.ModeLive, req.Mode)
	assert.False(t, req.Cacheable())
}

func TestBypassCache(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	assert.False(t, bypassCache(r))

	r.Header.Set("Cache-Control", "No-Cache")
	assert.True(t, bypassCache(r))

	r.Header.Set("Cache-Control", "max-age=0, no-store")
	assert.True(t, bypassCache(r))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200_000_000))
	assert.Equal(t, 3, retryAfterSeconds(2_500_000_000))
}

func TestDefaultKeyFunc(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		trustXFF bool
		setup    func(r *http.Request)
		want     string
	}{
		{
			name:   "header wins",
			header: "X-Client",
			setup: func(r *http.Request) {
				r.Header.Set("X-Client", " client-123 ")
				r.Header.Set("X-Forwarded-For", "1.1.1.1")
			},
			want: "client-123",
		},
		{
			name:     "first forwarded ip when trusted",
			trustXFF: true,
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", " 203.0.113.10 , 10.0.0.2")
			},
			want: "203.0.113.10",
		},
		{
			name: "forwarded ignored when not trusted",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "203.0.113.10")
			},
			want: "10.0.0.1",
		},
		{
			name:   "empty header falls back to remote addr",
			header: "X-Client",
			want:   "10.0.0.1",
		},
		{
			name:  "remote addr without port",
			setup: func(r *http.Request) { r.RemoteAddr = "unix-socket" },
			want:  "unix-socket",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			r.RemoteAddr = "10.0.0.1:1234"
			if tc.setup != nil {
				tc.setup(r)
			}
			assert.Equal(t, tc.want, DefaultKeyFunc(tc.header, tc.trustXFF)(r))
		})
	}
}

func TestCredentialDigest(t *testing.T) {
	req := func(hdr map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://example/v1/items/1", nil)
		for k, v := range hdr {
			r.Header.Set(k, v)
		}
		return r
	}

	assert.Empty(t, credentialDigest(req(nil), HeaderAPIKey), "anonymous")

	a := credentialDigest(req(map[string]string{HeaderAPIKey: "sk_live_a"}), HeaderAPIKey)
	b := credentialDigest(req(map[string]string{HeaderAPIKey: "sk_live_b"}), HeaderAPIKey)
	require.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, credentialDigest(req(map[string]string{HeaderAPIKey: "sk_live_a"}), HeaderAPIKey))
	assert.NotContains(t, a, "sk_live_a")

	// mesmo valor em headers diferentes não colide
	viaAuth := credentialDigest(req(map[string]string{"Authorization": "sk_live_a"}), HeaderAPIKey)
	assert.NotEqual(t, a, viaAuth)
	assert.NotEqual(t, viaAuth, credentialDigest(req(map[string]string{"Cookie": "session=1"}), HeaderAPIKey))
}

func TestCacheIdentifier_AnonymousHasNoCredential(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/v1/items/1?z=1&a=2", nil)
	assert.Equal(t, "GET /v1/items/1?a=2&z=1", cacheIdentifier(r, ""))
	assert.Equal(t, "GET /v1/items/1?a=2&z=1 cred=abc", cacheIdentifier(r, "abc"))
}
