// Package domain define contratos e tipos de domínio para admissão de requisições:
// rate limit por janela deslizante, cache-aside e os contratos do store compartilhado.
//
// Este pacote não depende de net/http, de Redis nem de implementações concretas.
// Os mesmos contratos são satisfeitos pelo Redis (produção) e por implementações
// em memória (testes e desenvolvimento).
package domain
