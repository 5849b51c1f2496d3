package infra

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrUnknownCommand = errors.New("ERR unknown command")
	ErrWrongArgs      = errors.New("ERR wrong number of arguments for 'cl.throttle' command")
)

// MemoryThrottle responde ao CL.THROTTLE em processo, com um token-bucket
// (x/time/rate) por chave. Implementa domain.Conn.
//
// Útil para testes e desenvolvimento: o estado é local ao processo, então não
// serve para várias instâncias atrás de um balanceador.
type MemoryThrottle struct {
	mu           sync.Mutex
	entries      map[string]*throttleEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type bucketShape struct {
	maxBurst int64
	rate     int64
	period   int64
}

type throttleEntry struct {
	lim      *rate.Limiter
	shape    bucketShape
	lastSeen time.Time
}

type MemoryThrottleOption func(*MemoryThrottle)

func WithIdleTTL(d time.Duration) MemoryThrottleOption {
	return func(s *MemoryThrottle) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryThrottleOption {
	return func(s *MemoryThrottle) { s.cleanupEvery = d }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) MemoryThrottleOption {
	return func(s *MemoryThrottle) { s.now = now }
}

func NewMemoryThrottle(opts ...MemoryThrottleOption) *MemoryThrottle {
	s := &MemoryThrottle{
		entries:      make(map[string]*throttleEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type throttleCmd struct {
	key      string
	shape    bucketShape
	quantity int64
}

// Do implementa domain.Conn. Só entende CL.THROTTLE.
func (s *MemoryThrottle) Do(ctx context.Context, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd, err := parseThrottle(args)
	if err != nil {
		return nil, err
	}
	return s.Throttle(cmd.key, cmd.shape.maxBurst, cmd.shape.rate, cmd.shape.period, cmd.quantity), nil
}

// Throttle devolve [is_limited, limit, remaining, retry_after, reset_after],
// no mesmo formato do módulo Cell.
func (s *MemoryThrottle) Throttle(key string, maxBurst, count, period, quantity int64) []any {
	now := s.now()
	shape := bucketShape{maxBurst: maxBurst, rate: count, period: period}
	capacity := maxBurst + 1
	perSecond := float64(count) / float64(period)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || ent.shape != shape {
		ent = &throttleEntry{
			lim:   rate.NewLimiter(rate.Limit(perSecond), int(capacity)),
			shape: shape,
		}
		s.entries[key] = ent
	}
	ent.lastSeen = now

	limited := int64(0)
	retryAfter := int64(-1)

	res := ent.lim.ReserveN(now, int(quantity))
	switch {
	case !res.OK():
		// quantity maior que a capacidade: nunca vai passar
		limited = 1
	case res.DelayFrom(now) > 0:
		limited = 1
		retryAfter = ceilSeconds(res.DelayFrom(now).Seconds())
		res.CancelAt(now)
	}

	tokens := max(ent.lim.TokensAt(now), 0)
	remaining := int64(math.Floor(tokens))
	resetAfter := ceilSeconds((float64(capacity) - tokens) / perSecond)

	return []any{limited, capacity, remaining, retryAfter, resetAfter}
}

func (s *MemoryThrottle) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryThrottle) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryThrottle) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func parseThrottle(args []any) (throttleCmd, error) {
	if len(args) == 0 {
		return throttleCmd{}, ErrUnknownCommand
	}
	name, _ := args[0].(string)
	if !strings.EqualFold(name, "CL.THROTTLE") {
		return throttleCmd{}, fmt.Errorf("%w '%v'", ErrUnknownCommand, args[0])
	}
	if len(args) != 5 && len(args) != 6 {
		return throttleCmd{}, ErrWrongArgs
	}

	key, ok := args[1].(string)
	if !ok {
		return throttleCmd{}, fmt.Errorf("ERR invalid key type %T", args[1])
	}

	nums := make([]int64, 0, 4)
	for _, a := range args[2:] {
		n, err := argInt(a)
		if err != nil {
			return throttleCmd{}, err
		}
		nums = append(nums, n)
	}
	quantity := int64(1)
	if len(nums) == 4 {
		quantity = nums[3]
	}

	switch {
	case nums[0] < 0:
		return throttleCmd{}, errors.New("ERR max_burst must be >= 0")
	case nums[1] < 1 || nums[2] < 1:
		return throttleCmd{}, errors.New("ERR count and period must be >= 1")
	case quantity < 0:
		return throttleCmd{}, errors.New("ERR quantity must be >= 0")
	}

	return throttleCmd{
		key:      key,
		shape:    bucketShape{maxBurst: nums[0], rate: nums[1], period: nums[2]},
		quantity: quantity,
	}, nil
}

func argInt(a any) (int64, error) {
	switch v := a.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ERR value is not an integer: %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("ERR value is not an integer: %T", a)
	}
}

// ceilSeconds arredonda para cima, ignorando ruído de ponto flutuante.
func ceilSeconds(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(math.Ceil(s - 1e-9))
}
