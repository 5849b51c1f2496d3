// Package ratelimit é o adapter net/http do rate limit baseado no CL.THROTTLE
// (módulo Cell do Redis/Valkey).
//
// Camadas:
//
//   - domain: regra, policy, decisão, erros e contratos (sem net/http)
//   - application: codec do comando, avaliação e o Service que percorre
//     provisionamento -> throttle -> outcome; Layer genérico para qualquer transporte
//   - infra: Conn sobre go-redis, throttle em memória, stats e semáforo
//   - ratelimit (este pacote): middleware HTTP, key funcs, providers por rota
//     e helpers de resposta
//
// Fluxo por requisição:
//
//  1. O RuleProvider define a regra (ou nenhuma, e a requisição passa)
//  2. Uma única chamada CL.THROTTLE ao store
//  3. Admitida: chama o próximo handler e o hook OnSuccess
//  4. Bloqueada ou com erro: o ErrorHandler responde (ex.: 429, 401, 503)
//
// Uso mínimo:
//
//	policy := domain.MustPolicy(domain.PerMinute(60))
//	provider, err := ratelimit.KeyPolicy(ratelimit.DefaultKeyFunc("X-Api-Key", false), policy)
//	if err != nil { ... }
//	mw, err := ratelimit.New(ratelimit.Options{
//		Provider:     provider,
//		Conn:         infra.NewRedisConn(rdb),
//		ErrorHandler: ratelimit.DefaultErrorHandler,
//		OnSuccess:    ratelimit.SuccessHeaders,
//	})
package ratelimit
