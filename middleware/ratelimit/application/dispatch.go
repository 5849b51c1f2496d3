package application

import (
	"context"

	"throttle-gateway/middleware/ratelimit/domain"
)

// dispatch escolhe exatamente um dos três caminhos terminais.
// O handler roda uma única vez em Admitted/Unruled e nunca em Throttled.
func (l *Layer[Req, Resp]) dispatch(ctx context.Context, req Req, out domain.Outcome, next HandlerFunc[Req, Resp]) (Resp, error) {
	h := l.cfg.hooks

	switch out.Kind {
	case domain.OutcomeThrottled:
		return l.cfg.onError(&domain.RateLimitError{Rule: out.Rule, Decision: out.Decision}, req), nil

	case domain.OutcomeAdmitted:
		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}
		if h.onSuccess != nil {
			h.onSuccess(AllowedDetails(out), &resp)
		}
		return resp, nil

	default:
		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}
		if h.onUnruled != nil {
			h.onUnruled(&resp)
		}
		return resp, nil
	}
}

// AllowedDetails extrai do Outcome o que o hook de sucesso recebe.
func AllowedDetails(out domain.Outcome) domain.AllowedDetails {
	return domain.AllowedDetails{
		Decision: out.Decision,
		Policy:   out.Rule.Policy,
		Resource: out.Rule.Resource,
	}
}
