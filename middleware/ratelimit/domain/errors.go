package domain

import (
	"errors"
	"fmt"
)

// Kind discrimina os erros que chegam ao error handler do middleware.
type Kind uint8

const (
	// KindProvideRule: não foi possível definir a regra (em geral, input do cliente).
	KindProvideRule Kind = iota + 1
	// KindRateLimit: requisição bloqueada pela cota. Não é falha do sistema.
	KindRateLimit
	// KindStore: falha de transporte/conexão com o store (inclui timeout).
	KindStore
	// KindDecode: o store respondeu num formato inesperado.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindProvideRule:
		return "provide_rule"
	case KindRateLimit:
		return "rate_limit"
	case KindStore:
		return "store"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error é a união fechada dos erros do middleware. Só os quatro tipos
// deste pacote a implementam.
type Error interface {
	error
	Kind() Kind
	sealed()
}

// KindOf devolve o Kind do primeiro domain.Error na cadeia de err, ou 0.
func KindOf(err error) Kind {
	var e Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return 0
}

// ProvideRuleError indica que o RuleProvider não conseguiu definir a regra.
// Key é preenchida quando conhecida.
type ProvideRuleError struct {
	Key    Key
	Detail string
}

func NewProvideRuleError(key Key, detail string) *ProvideRuleError {
	return &ProvideRuleError{Key: key, Detail: detail}
}

func (e *ProvideRuleError) WithKey(key Key) *ProvideRuleError {
	e.Key = key
	return e
}

func (e *ProvideRuleError) WithDetail(detail string) *ProvideRuleError {
	e.Detail = detail
	return e
}

func (e *ProvideRuleError) Error() string {
	if e.Detail == "" {
		return "failed to provide rule"
	}
	return "failed to provide rule: " + e.Detail
}

func (e *ProvideRuleError) Kind() Kind { return KindProvideRule }
func (e *ProvideRuleError) sealed()    {}

// RateLimitError carrega a regra e a decisão de uma requisição bloqueada.
type RateLimitError struct {
	Rule     Rule
	Decision Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("request blocked for key %s and can be retried after %d second(s)",
		e.Rule.Key, int64(e.Decision.RetryAfter.Seconds()))
}

func (e *RateLimitError) Kind() Kind { return KindRateLimit }
func (e *RateLimitError) sealed()    {}

// StoreError embrulha falhas do Conn (rede, pool, timeout).
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return "store: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Kind() Kind    { return KindStore }
func (e *StoreError) sealed()       {}

// DecodeError indica que a resposta do store não tem o formato esperado.
type DecodeError struct {
	Reply  any
	Detail string
}

func (e *DecodeError) Error() string { return "decode throttle reply: " + e.Detail }
func (e *DecodeError) Kind() Kind    { return KindDecode }
func (e *DecodeError) sealed()       {}
