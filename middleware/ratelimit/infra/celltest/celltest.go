// Package celltest sobe um miniredis que entende CL.THROTTLE, para testar o
// caminho completo (go-redis -> RESP -> decode) sem o módulo Cell de verdade.
package celltest

import (
	"context"
	"sync/atomic"
	"testing"

	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/alicebob/miniredis/v2/server"
	"github.com/redis/go-redis/v9"
)

// Server é um miniredis com o comando CL.THROTTLE registrado, respondido por
// um infra.MemoryThrottle.
type Server struct {
	*miniredis.Miniredis
	Throttle *infra.MemoryThrottle

	calls atomic.Int64
	reply atomic.Pointer[func(c *server.Peer)]
}

func Run(t testing.TB, opts ...infra.MemoryThrottleOption) *Server {
	t.Helper()

	s := &Server{
		Miniredis: miniredis.RunT(t),
		Throttle:  infra.NewMemoryThrottle(opts...),
	}
	if err := s.Server().Register("CL.THROTTLE", s.handle); err != nil {
		t.Fatalf("register CL.THROTTLE: %v", err)
	}
	return s
}

func (s *Server) handle(c *server.Peer, cmd string, args []string) {
	s.calls.Add(1)

	if fn := s.reply.Load(); fn != nil {
		(*fn)(c)
		return
	}

	argv := make([]any, 0, len(args)+1)
	argv = append(argv, cmd)
	for _, a := range args {
		argv = append(argv, a)
	}

	reply, err := s.Throttle.Do(context.Background(), argv...)
	if err != nil {
		c.WriteError(err.Error())
		return
	}
	items := reply.([]any)
	c.WriteLen(len(items))
	for _, it := range items {
		c.WriteInt(int(it.(int64)))
	}
}

// ReplyWith força uma resposta crua (ex.: formato quebrado) em todas as
// chamadas seguintes.
func (s *Server) ReplyWith(fn func(c *server.Peer)) {
	s.reply.Store(&fn)
}

// Calls conta quantos CL.THROTTLE chegaram ao servidor.
func (s *Server) Calls() int64 { return s.calls.Load() }

// Client devolve um cliente go-redis apontando para o servidor, fechado no
// fim do teste.
func (s *Server) Client(t testing.TB) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
