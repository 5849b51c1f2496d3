package domain

// RuleProvider inspeciona a requisição e devolve a regra a aplicar.
//
//   - (rule, nil): aplica a regra.
//   - (nil, nil): requisição isenta (unruled), o store não é consultado.
//   - (_, err): falha de provisionamento. Prefira devolver *ProvideRuleError;
//     qualquer outro erro é embrulhado em um.
//
// Deve ser seguro para uso concorrente e não deve falar com o store.
type RuleProvider[R any] interface {
	Provide(req R) (*Rule, error)
}

// RuleProviderFunc adapta uma função comum para RuleProvider.
type RuleProviderFunc[R any] func(req R) (*Rule, error)

func (f RuleProviderFunc[R]) Provide(req R) (*Rule, error) { return f(req) }
