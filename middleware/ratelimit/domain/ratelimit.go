package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidBurst  = errors.New("burst must be >= 1")
	ErrInvalidRate   = errors.New("rate must be >= 1")
	ErrInvalidPeriod = errors.New("period must be a whole number of seconds >= 1s")
	ErrInvalidCost   = errors.New("cost must be >= 1")
)

// Key identifica quem está sendo limitado (IP, API key, usuário...).
type Key string

func KeyFromUUID(id uuid.UUID) Key { return Key(id.String()) }

func KeyFromInt(v int64) Key { return Key(strconv.FormatInt(v, 10)) }

func (k Key) String() string { return string(k) }

func (k Key) IsEmpty() bool { return k == "" }

// Policy descreve o formato da cota: até `burst` requisições de uma vez,
// repostas à taxa de `rate` tokens por `period`.
//
// Os campos são privados para que toda Policy não-zero seja válida.
// Use PerSecond, PerMinute, PerHour, PerDay ou PerPeriod.
type Policy struct {
	burst  int64
	rate   int64
	period time.Duration
	cost   int64
	name   string
}

type PolicyOption func(*Policy)

// WithBurst define o tamanho máximo da rajada. Sem essa opção, burst = tokens.
func WithBurst(n int64) PolicyOption {
	return func(p *Policy) { p.burst = n }
}

// WithName dá um nome legível à policy (logs, headers, auditoria).
func WithName(name string) PolicyOption {
	return func(p *Policy) { p.name = name }
}

// WithCost define quantos tokens cada requisição consome (padrão 1).
func WithCost(n int64) PolicyOption {
	return func(p *Policy) { p.cost = n }
}

func PerSecond(tokens int64, opts ...PolicyOption) (Policy, error) {
	return PerPeriod(tokens, time.Second, opts...)
}

func PerMinute(tokens int64, opts ...PolicyOption) (Policy, error) {
	return PerPeriod(tokens, time.Minute, opts...)
}

func PerHour(tokens int64, opts ...PolicyOption) (Policy, error) {
	return PerPeriod(tokens, time.Hour, opts...)
}

func PerDay(tokens int64, opts ...PolicyOption) (Policy, error) {
	return PerPeriod(tokens, 24*time.Hour, opts...)
}

// PerPeriod cria uma policy de `tokens` por `period`.
func PerPeriod(tokens int64, period time.Duration, opts ...PolicyOption) (Policy, error) {
	p := Policy{
		burst:  tokens,
		rate:   tokens,
		period: period,
		cost:   1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// MustPolicy entra em pânico se err != nil.
// Só deve ser usado em configuração estática (vars de pacote, init), nunca
// por requisição.
func MustPolicy(p Policy, err error) Policy {
	if err != nil {
		panic(fmt.Sprintf("ratelimit: invalid policy: %v", err))
	}
	return p
}

func (p Policy) validate() error {
	var errs []error
	if p.burst < 1 {
		errs = append(errs, ErrInvalidBurst)
	}
	if p.rate < 1 {
		errs = append(errs, ErrInvalidRate)
	}
	if p.period < time.Second || p.period%time.Second != 0 {
		errs = append(errs, ErrInvalidPeriod)
	}
	if p.cost < 1 {
		errs = append(errs, ErrInvalidCost)
	}
	return errors.Join(errs...)
}

// Burst é a capacidade total do bucket (o `limit` devolvido pelo store), não
// o max_burst do Cell, que conta só os tokens além do primeiro.
func (p Policy) Burst() int64          { return p.burst }
func (p Policy) Rate() int64           { return p.rate }
func (p Policy) Period() time.Duration { return p.period }
func (p Policy) Cost() int64           { return p.cost }
func (p Policy) Name() string          { return p.name }
func (p Policy) IsZero() bool          { return p == Policy{} }

func (p Policy) String() string {
	s := fmt.Sprintf("%d/%s burst=%d", p.rate, p.period, p.burst)
	if p.name != "" {
		s = p.name + " (" + s + ")"
	}
	return s
}

// Rule é a regra aplicada a UMA requisição: quem (Key) e qual cota (Policy).
// Resource é opcional (tracing, debug, auditoria).
type Rule struct {
	Key      Key
	Policy   Policy
	Resource string
}

func NewRule(key Key, policy Policy) Rule {
	return Rule{Key: key, Policy: policy}
}

func NewRuleWithResource(key Key, policy Policy, resource string) Rule {
	return Rule{Key: key, Policy: policy, Resource: resource}
}

// Decision é a resposta do store para uma única chamada de throttle.
type Decision struct {
	Admitted  bool
	Limit     uint64
	Remaining uint64
	// RetryAfter é quanto esperar até a próxima tentativa ser aceita.
	// Zero quando admitido.
	RetryAfter time.Duration
	// ResetAfter é quanto falta para o bucket voltar a ficar cheio.
	ResetAfter time.Duration
}

type OutcomeKind uint8

const (
	OutcomeUnruled OutcomeKind = iota
	OutcomeAdmitted
	OutcomeThrottled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnruled:
		return "unruled"
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Outcome é o resultado de admissão de uma requisição.
// Rule e Decision são zero quando Kind == OutcomeUnruled.
type Outcome struct {
	Kind     OutcomeKind
	Rule     Rule
	Decision Decision
}

// AllowedDetails é entregue ao hook de sucesso.
type AllowedDetails struct {
	Decision Decision
	Policy   Policy
	Resource string
}
