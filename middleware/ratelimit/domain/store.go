package domain

import "context"

// Conn é a única capacidade exigida do store: executar um comando e devolver
// a resposta crua. Ciclo de vida, autenticação, pool e timeout são
// responsabilidade da implementação.
//
// A implementação deve respeitar o cancelamento de ctx.
type Conn interface {
	Do(ctx context.Context, args ...any) (any, error)
}

type ConnFunc func(ctx context.Context, args ...any) (any, error)

func (f ConnFunc) Do(ctx context.Context, args ...any) (any, error) { return f(ctx, args...) }
