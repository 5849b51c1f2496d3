package application

import (
	"context"
	"errors"

	"throttle-gateway/middleware/ratelimit/domain"
)

var (
	ErrProviderRequired     = errors.New("rule provider is required")
	ErrConnRequired         = errors.New("store connection is required")
	ErrErrorHandlerRequired = errors.New("error handler is required")
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas percorre
// provisionamento -> throttle -> avaliação e devolve o Outcome.
// Não guarda estado entre requisições.
type Service[R any] struct {
	Provider domain.RuleProvider[R]
	Conn     domain.Conn
}

func NewService[R any](provider domain.RuleProvider[R], conn domain.Conn) (Service[R], error) {
	if provider == nil {
		return Service[R]{}, ErrProviderRequired
	}
	if conn == nil {
		return Service[R]{}, ErrConnRequired
	}
	return Service[R]{Provider: provider, Conn: conn}, nil
}

// Enforce decide a admissão de req.
//
// O erro devolvido é um domain.Error (ProvideRule, Store ou Decode), ou o
// erro do próprio ctx quando a requisição foi cancelada durante a chamada ao
// store. Nesse caso nenhum hook deve rodar.
func (s Service[R]) Enforce(ctx context.Context, req R) (domain.Outcome, error) {
	rule, err := s.provide(req)
	if err != nil {
		return domain.Outcome{}, err
	}
	if rule == nil {
		return domain.Outcome{Kind: domain.OutcomeUnruled}, nil
	}

	dec, err := s.throttle(ctx, *rule)
	if err != nil {
		return domain.Outcome{}, err
	}
	return Evaluate(*rule, dec), nil
}

func (s Service[R]) provide(req R) (*domain.Rule, error) {
	rule, err := s.Provider.Provide(req)
	if err != nil {
		var pre *domain.ProvideRuleError
		if errors.As(err, &pre) {
			return nil, pre
		}
		return nil, &domain.ProvideRuleError{Detail: err.Error()}
	}
	if rule == nil {
		return nil, nil
	}
	if rule.Key.IsEmpty() {
		return nil, &domain.ProvideRuleError{Detail: "empty rate limit key"}
	}
	if rule.Policy.IsZero() {
		return nil, &domain.ProvideRuleError{Key: rule.Key, Detail: "rule has no policy"}
	}

	// cópia: o provider não consegue alterar a regra depois daqui
	r := *rule
	return &r, nil
}

// throttle faz a única ida ao store da requisição.
func (s Service[R]) throttle(ctx context.Context, rule domain.Rule) (domain.Decision, error) {
	reply, err := s.Conn.Do(ctx, EncodeThrottle(rule)...)
	if cerr := ctx.Err(); errors.Is(cerr, context.Canceled) {
		return domain.Decision{}, cerr
	}
	if err != nil {
		return domain.Decision{}, &domain.StoreError{Err: err}
	}
	return DecodeDecision(reply)
}

// IsCanceled indica que err veio do cancelamento da requisição e não de uma
// falha classificada (domain.Error).
func IsCanceled(err error) bool {
	return err != nil && domain.KindOf(err) == 0 && errors.Is(err, context.Canceled)
}
