// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisWindowCounter: sliding window log atômico via script Lua (ZSET por chave)
//   - RedisCacheStore: valores via go-redis/cache, locks com SET NX, índices de tag em SET
//   - MemoryWindowCounter / MemoryCacheStore: mesmos contratos em memória, para testes e dev
//   - ChanPool: semáforo simples para limite de concorrência
//   - RedisStatsStore / MemoryStatsStore: estatísticas de admissão
package infra
