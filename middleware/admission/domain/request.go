package domain

// RequestContext é passado explicitamente por parâmetro (sem globais por request).
type RequestContext struct {
	TenantID      string
	RequestID     string
	OperationID   string
	ResourceGroup string
	Mode          Mode

	// CacheCategory vazio desliga o cache para a requisição.
	CacheCategory string
	// CacheIdentifier identifica o recurso lido (ex: método + path + query normalizada).
	CacheIdentifier string
	Tags            []string
	// BypassCache pula a leitura, mas o resultado ainda é gravado.
	BypassCache bool
}

func (r RequestContext) Cacheable() bool {
	return r.CacheCategory != "" && r.CacheIdentifier != ""
}
