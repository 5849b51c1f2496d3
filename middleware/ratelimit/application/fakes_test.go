package application

import (
	"context"
	"sync"

	"throttle-gateway/middleware/ratelimit/domain"
)

// scriptedConn devolve sempre a mesma resposta e registra os comandos.
type scriptedConn struct {
	mu    sync.Mutex
	calls [][]any
	reply any
	err   error
}

func (c *scriptedConn) Do(_ context.Context, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, args)
	return c.reply, c.err
}

func (c *scriptedConn) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// blockingConn só retorna quando ctx termina.
type blockingConn struct {
	entered chan struct{}
}

func (c *blockingConn) Do(ctx context.Context, _ ...any) (any, error) {
	close(c.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func staticProvider(rule *domain.Rule, err error) domain.RuleProviderFunc[string] {
	return func(string) (*domain.Rule, error) { return rule, err }
}

func keyProvider(policy domain.Policy) domain.RuleProviderFunc[string] {
	return func(key string) (*domain.Rule, error) {
		r := domain.NewRule(domain.Key(key), policy)
		return &r, nil
	}
}

func admittedReply() []any  { return []any{int64(0), int64(10), int64(9), int64(-1), int64(6)} }
func throttledReply() []any { return []any{int64(1), int64(10), int64(0), int64(3), int64(60)} }
