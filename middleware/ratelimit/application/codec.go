package application

import (
	"fmt"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// ThrottleCommand é o comando do módulo Redis/Valkey Cell.
const ThrottleCommand = "CL.THROTTLE"

// replyArity: [is_limited, limit, remaining, retry_after, reset_after]
const replyArity = 5

// EncodeThrottle monta o comando para a regra:
//
//	CL.THROTTLE <key> <max_burst> <rate> <period-seconds> [<quantity>]
//
// O max_burst do Cell conta os tokens além do primeiro, por isso burst-1:
// o `limit` devolvido pelo store fica igual a Policy.Burst().
// A quantidade só é enviada quando o custo é maior que 1 (o padrão do Cell é 1).
func EncodeThrottle(rule domain.Rule) []any {
	p := rule.Policy
	args := []any{
		ThrottleCommand,
		rule.Key.String(),
		p.Burst() - 1,
		p.Rate(),
		int64(p.Period() / time.Second),
	}
	if p.Cost() > 1 {
		args = append(args, p.Cost())
	}
	return args
}

// DecodeDecision interpreta a resposta do CL.THROTTLE.
//
// Qualquer resposta fora do formato (aridade, tipo, flag fora de {0,1},
// limit/remaining negativos) vira *domain.DecodeError. Nunca é mapeada para
// admitido ou bloqueado.
func DecodeDecision(reply any) (domain.Decision, error) {
	items, ok := reply.([]any)
	if !ok {
		return domain.Decision{}, decodeErr(reply, "expected array reply, got %T", reply)
	}
	if len(items) != replyArity {
		return domain.Decision{}, decodeErr(reply, "expected %d elements, got %d", replyArity, len(items))
	}

	var v [replyArity]int64
	for i, item := range items {
		n, ok := toInt64(item)
		if !ok {
			return domain.Decision{}, decodeErr(reply, "element %d: expected integer, got %T", i, item)
		}
		v[i] = n
	}

	limited, limit, remaining := v[0], v[1], v[2]
	if limited != 0 && limited != 1 {
		return domain.Decision{}, decodeErr(reply, "is_limited must be 0 or 1, got %d", limited)
	}
	if limit < 0 || remaining < 0 {
		return domain.Decision{}, decodeErr(reply, "negative limit (%d) or remaining (%d)", limit, remaining)
	}

	return domain.Decision{
		Admitted:   limited == 0,
		Limit:      uint64(limit),
		Remaining:  uint64(remaining),
		RetryAfter: seconds(v[3]),
		ResetAfter: seconds(v[4]),
	}, nil
}

func decodeErr(reply any, format string, args ...any) *domain.DecodeError {
	return &domain.DecodeError{Reply: reply, Detail: fmt.Sprintf(format, args...)}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// seconds: negativo significa "não se aplica" (-1 no Cell) e vira zero.
func seconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
