// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisConn: domain.Conn sobre go-redis (Redis/Valkey com o módulo Cell)
//   - MemoryThrottle: CL.THROTTLE em processo com golang.org/x/time/rate
//   - SlotPool: semáforo simples para limitar chamadas simultâneas ao store
//   - MemoryStatsStore / RedisStatsStore: contadores de admitted/throttled/unruled
package infra
