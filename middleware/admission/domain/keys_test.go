package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuilder_BuildFormat(t *testing.T) {
	kb := NewKeyBuilder("svc")

	assert.Equal(t, "svc:rl:live:t1:GET /v1/items", kb.Build(PrefixRateLimit, "live", "t1", "GET /v1/items"))
	assert.Equal(t, "svc:cache:items:t1:42:price", kb.Build(PrefixCache, "items", "t1", "42", "price"))
}

func TestKeyBuilder_DefaultNamespace(t *testing.T) {
	assert.Equal(t, "adm:cache:a:b:c", NewKeyBuilder("").Build(PrefixCache, "a", "b", "c"))
	assert.Equal(t, "adm:cache:a:b:c", KeyBuilder{}.Build(PrefixCache, "a", "b", "c"))
	assert.Equal(t, "x:cache:a:b:c", NewKeyBuilder(" :x: ").Build(PrefixCache, "a", "b", "c"))
}

func TestKeyBuilder_Deterministic(t *testing.T) {
	kb := NewKeyBuilder("adm")
	a := kb.Build(PrefixCache, "items", "t1", "42", "v")
	b := kb.Build(PrefixCache, "items", "t1", "42", "v")
	assert.Equal(t, a, b)
}

func TestKeyBuilder_TrailingEmptySubresourcesAreAbsent(t *testing.T) {
	kb := NewKeyBuilder("adm")
	base := kb.Build(PrefixCache, "items", "t1", "42")

	assert.Equal(t, base, kb.Build(PrefixCache, "items", "t1", "42", ""))
	assert.Equal(t, base, kb.Build(PrefixCache, "items", "t1", "42", "", ""))
	assert.NotEqual(t, base, kb.Build(PrefixCache, "items", "t1", "42", "", "x"))
}

func TestKeyBuilder_NoCollisions(t *testing.T) {
	kb := NewKeyBuilder("adm")

	type parts struct {
		prefix                     Prefix
		entity, tenant, identifier string
		sub                        []string
	}
	cases := []parts{
		{PrefixCache, "items", "t1", "42", nil},
		{PrefixRateLimit, "items", "t1", "42", nil},
		{PrefixCache, "items", "t2", "42", nil},
		{PrefixCache, "items:t1", "", "42", nil},
		{PrefixCache, "items", "t1:42", "", nil},
		{PrefixCache, "items", "t1", "42:a", nil},
		{PrefixCache, "items", "t1", "42", []string{"a"}},
		{PrefixCache, "items", "t1", "42", []string{"a:b"}},
		{PrefixCache, "items", "t1", "42", []string{"a", "b"}},
		{PrefixCache, "items", "t1", "42", []string{"a/b"}},
		{PrefixCache, "items", "t1", "%3A", nil},
		{PrefixCache, "items", "t1", ":", nil},
	}

	seen := make(map[string]int, len(cases))
	for i, c := range cases {
		k := kb.Build(c.prefix, c.entity, c.tenant, c.identifier, c.sub...)
		if j, dup := seen[k]; dup {
			t.Fatalf("cases %d and %d collide on %q", j, i, k)
		}
		seen[k] = i
	}
}

func TestKeyBuilder_EscapesGlobAndDelimiter(t *testing.T) {
	kb := NewKeyBuilder("adm")
	k := kb.Build(PrefixCache, "it*ems", "t?1", "[42]", `a\b`)

	assert.Equal(t, 5, strings.Count(k, ":"), "only structural delimiters remain")
	assert.NotContains(t, k, "*")
	assert.NotContains(t, k, "?")
	assert.NotContains(t, k, "[")
	assert.NotContains(t, k, `\`)
}

func TestKeyBuilder_DerivedKeys(t *testing.T) {
	kb := NewKeyBuilder("adm")
	cacheKey := kb.Build(PrefixCache, "items", "t1", "42")

	assert.Equal(t, "adm:lock:"+cacheKey, kb.Lock(cacheKey))
	assert.Equal(t, "adm:tag:tenant/t1", kb.Tag(TenantTag("t1")))
	assert.Equal(t, "adm:tag:a%3Ab", kb.Tag("a:b"))
	assert.Equal(t, "adm:cache", kb.Root(PrefixCache))
}

func TestKeyBuilder_Pattern(t *testing.T) {
	kb := NewKeyBuilder("adm")

	assert.Equal(t, "adm:cache:items:t1:*", kb.Pattern(PrefixCache, "items", "t1"))
	assert.Equal(t, "adm:cache:*:t1:*", kb.Pattern(PrefixCache, "", "t1"))
	assert.Equal(t, "adm:cache:*:t%2A:*", kb.Pattern(PrefixCache, "", "t*"))

	k := kb.Build(PrefixCache, "items", "t1", "42")
	require.True(t, strings.HasPrefix(k, strings.TrimSuffix(kb.Pattern(PrefixCache, "items", "t1"), "*")))
}

func TestTags_AreInjective(t *testing.T) {
	assert.Equal(t, "group/t1/items", GroupTag("t1", "items"))
	assert.NotEqual(t, GroupTag("a/b", "c"), GroupTag("a", "b/c"))
	assert.NotEqual(t, GroupTag("a%2Fb", "c"), GroupTag("a/b", "c"))
	assert.NotEqual(t, TenantTag("a/b"), TenantTag("a%2Fb"))
	assert.Equal(t, "tenant/a%2Fb", TenantTag("a/b"))
}
