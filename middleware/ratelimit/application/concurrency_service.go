package application

import (
	"context"
	"errors"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// ErrNoStoreSlot: nenhuma vaga livre para falar com o store dentro do timeout.
var ErrNoStoreSlot = errors.New("no store slot available")

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

// BoundedConn limita quantas chamadas ao store ficam em voo ao mesmo tempo.
// É um domain.Conn, então o Service não sabe que existe um limite.
type BoundedConn struct {
	Conn  domain.Conn
	Slots ConcurrencyService
}

func (c BoundedConn) Do(ctx context.Context, args ...any) (any, error) {
	release, ok := c.Slots.Acquire(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoStoreSlot
	}
	defer release()

	return c.Conn.Do(ctx, args...)
}
