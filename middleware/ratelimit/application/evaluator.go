package application

import "throttle-gateway/middleware/ratelimit/domain"

// Evaluate nomeia o resultado da decisão. Função pura: toda a semântica da
// cota fica no store.
func Evaluate(rule domain.Rule, d domain.Decision) domain.Outcome {
	kind := domain.OutcomeThrottled
	if d.Admitted {
		kind = domain.OutcomeAdmitted
	}
	return domain.Outcome{Kind: kind, Rule: rule, Decision: d}
}
