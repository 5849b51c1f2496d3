package ratelimit

import (
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	// Max de chamadas simultâneas ao store. <= 0 desliga o limite.
	Max            int
	AcquireTimeout time.Duration
}

// Bounded limita as chamadas simultâneas ao store. Sem vaga dentro do
// timeout, a requisição falha com erro de store (KindStore), que o
// ErrorHandler trata como qualquer indisponibilidade.
func Bounded(conn domain.Conn, opts ConcurrencyOptions) domain.Conn {
	if opts.Max <= 0 {
		return conn
	}
	return application.BoundedConn{
		Conn: conn,
		Slots: application.ConcurrencyService{
			Pool:           infra.NewSlotPool(opts.Max),
			AcquireTimeout: opts.AcquireTimeout,
		},
	}
}
