package domain

import "strings"

// Prefix separa os subsistemas no keyspace; colisão entre eles é estruturalmente impossível.
type Prefix string

const (
	PrefixRateLimit Prefix = "rl"
	PrefixCache     Prefix = "cache"
	PrefixLock      Prefix = "lock"
	PrefixTag       Prefix = "tag"
)

const DefaultNamespace = "adm"

// componentEscaper escapa o delimitador e os metacaracteres de glob, para que um
// identificador vindo do cliente não quebre o namespace nem amplie um pattern.
var componentEscaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"*", "%2A",
	"?", "%3F",
	"[", "%5B",
	"]", "%5D",
	"\\", "%5C",
)

func escapeComponent(s string) string { return componentEscaper.Replace(s) }

// KeyBuilder monta chaves determinísticas "ns:prefix:entity:tenant:identifier[:subresource]".
type KeyBuilder struct {
	Namespace string
}

func NewKeyBuilder(namespace string) KeyBuilder {
	namespace = strings.Trim(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return KeyBuilder{Namespace: escapeComponent(namespace)}
}

func (b KeyBuilder) ns() string {
	if b.Namespace == "" {
		return DefaultNamespace
	}
	return b.Namespace
}

// Build: subresources vazios no final equivalem a ausentes (mesmo recurso lógico).
func (b KeyBuilder) Build(prefix Prefix, entity, tenantID, identifier string, subresource ...string) string {
	var sb strings.Builder
	sb.WriteString(b.ns())
	sb.WriteByte(':')
	sb.WriteString(string(prefix))
	for _, part := range []string{entity, tenantID, identifier} {
		sb.WriteByte(':')
		sb.WriteString(escapeComponent(part))
	}
	for len(subresource) > 0 && subresource[len(subresource)-1] == "" {
		subresource = subresource[:len(subresource)-1]
	}
	for _, part := range subresource {
		sb.WriteByte(':')
		sb.WriteString(escapeComponent(part))
	}
	return sb.String()
}

// Root é o início comum de todas as chaves de um subsistema.
func (b KeyBuilder) Root(prefix Prefix) string {
	return b.ns() + ":" + string(prefix)
}

// Lock deriva a chave do CacheLock a partir da chave de cache.
func (b KeyBuilder) Lock(cacheKey string) string {
	return b.ns() + ":" + string(PrefixLock) + ":" + cacheKey
}

func (b KeyBuilder) Tag(tag string) string {
	return b.ns() + ":" + string(PrefixTag) + ":" + escapeComponent(tag)
}

// Pattern retorna o glob de todas as chaves de um tenant numa entidade.
// entity ou tenantID vazios viram curinga.
func (b KeyBuilder) Pattern(prefix Prefix, entity, tenantID string) string {
	parts := []string{b.ns(), string(prefix), "*", "*"}
	if entity != "" {
		parts[2] = escapeComponent(entity)
	}
	if tenantID != "" {
		parts[3] = escapeComponent(tenantID)
	}
	return strings.Join(parts, ":") + ":*"
}

// tagPartEscaper escapa o separador das tags compostas.
var tagPartEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

func escapeTagPart(s string) string { return tagPartEscaper.Replace(s) }

// TenantTag é a tag aplicada a todo valor cacheado de um tenant.
func TenantTag(tenantID string) string { return "tenant/" + escapeTagPart(tenantID) }

// GroupTag agrupa valores de um tenant por resource group.
func GroupTag(tenantID, group string) string {
	return "group/" + escapeTagPart(tenantID) + "/" + escapeTagPart(group)
}
