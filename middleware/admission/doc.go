// Package admission fornece adapters HTTP (net/http) para o pipeline de admissão:
// rate limit por janela deslizante, cache-aside de respostas e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (resolução de config, rate limit, cache, pipeline) sem net/http
//   - infra: implementações concretas (Redis, memória, semáforo), detalhes de infraestrutura
//   - admission (este pacote): middlewares HTTP + extração de tenant/modo/operação +
//     tradução para status/headers/corpo
//
// Fluxo no gateway:
//
//   1) Monta o RequestContext (tenant, modo test/live, operação, resource group)
//   2) Executa o pipeline: config → rate limit → cache → handler
//   3) Se negado, responde 429 com corpo {code, message, retryAfter}
//   4) Se for hit, responde do cache; senão chama o próximo handler (ex: reverse proxy)
//
// Falhas do store compartilhado nunca viram erro para o cliente: o rate limit libera
// e o cache vira miss.
package admission
