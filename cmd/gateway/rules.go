package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit"
	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRules = errors.New("invalid rules file")

// rulesFile é o formato do RATE_RULES_FILE:
//
//	key:
//	  header: X-Api-Key
//	  type: uuid            # string (padrão), uuid ou int
//	default:
//	  tokens: 60
//	  period: 1m
//	routes:
//	  - name: articles::write
//	    method: POST
//	    prefix: /articles
//	    policy: {tokens: 5, period: 1h, name: strict}
//	  - prefix: /healthz
//	    exempt: true
type rulesFile struct {
	Key     keySpec     `yaml:"key"`
	Default *policySpec `yaml:"default"`
	Routes  []routeSpec `yaml:"routes"`
}

type keySpec struct {
	Header   string `yaml:"header"`
	TrustXFF bool   `yaml:"trust_xff"`
	// Bearer usa o sub do JWT; o segredo vem de RATE_JWT_SECRET.
	Bearer bool   `yaml:"bearer"`
	Type   string `yaml:"type"`
}

type policySpec struct {
	Name   string        `yaml:"name"`
	Tokens int64         `yaml:"tokens"`
	Period time.Duration `yaml:"period"`
	Burst  int64         `yaml:"burst"`
	Cost   int64         `yaml:"cost"`
}

type routeSpec struct {
	Name   string      `yaml:"name"`
	Method string      `yaml:"method"`
	Prefix string      `yaml:"prefix"`
	Policy *policySpec `yaml:"policy"`
	Exempt bool        `yaml:"exempt"`
}

func loadRules(path string) (rulesFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return rulesFile{}, err
	}
	defer f.Close()

	var rf rulesFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return rulesFile{}, errors.Join(ErrInvalidRules, err)
	}
	return rf, nil
}

func (p policySpec) policy() (domain.Policy, error) {
	var opts []domain.PolicyOption
	if p.Name != "" {
		opts = append(opts, domain.WithName(p.Name))
	}
	if p.Burst != 0 {
		opts = append(opts, domain.WithBurst(p.Burst))
	}
	if p.Cost != 0 {
		opts = append(opts, domain.WithCost(p.Cost))
	}
	return domain.PerPeriod(p.Tokens, p.Period, opts...)
}

// keyFunc monta a extração de chave. O tipo valida e normaliza a chave:
// valor inválido vira "" (sem chave, 401 no DefaultErrorHandler).
func (k keySpec) keyFunc(jwtSecret string) (ratelimit.KeyFunc, error) {
	base := ratelimit.DefaultKeyFunc(k.Header, k.TrustXFF)
	if k.Bearer {
		if jwtSecret == "" {
			return nil, fmt.Errorf("%w: bearer key requires RATE_JWT_SECRET", ErrInvalidRules)
		}
		base = ratelimit.BearerSubject([]byte(jwtSecret))
	}

	switch strings.ToLower(k.Type) {
	case "", "string":
		return base, nil
	case "uuid":
		return func(r *http.Request) string {
			id, err := uuid.Parse(base(r))
			if err != nil {
				return ""
			}
			return domain.KeyFromUUID(id).String()
		}, nil
	case "int":
		return func(r *http.Request) string {
			n, err := strconv.ParseInt(base(r), 10, 64)
			if err != nil {
				return ""
			}
			return domain.KeyFromInt(n).String()
		}, nil
	default:
		return nil, fmt.Errorf("%w: key type %q", ErrInvalidRules, k.Type)
	}
}

// provider transforma o arquivo em um RouteProvider.
func (rf rulesFile) provider(jwtSecret string) (*ratelimit.RouteProvider, error) {
	keyFn, err := rf.Key.keyFunc(jwtSecret)
	if err != nil {
		return nil, err
	}

	var errs []error
	routes := make([]ratelimit.Route, 0, len(rf.Routes))
	for i, rs := range rf.Routes {
		rt := ratelimit.Route{
			Name:   rs.Name,
			Method: strings.ToUpper(rs.Method),
			Prefix: rs.Prefix,
			Exempt: rs.Exempt,
		}
		if rs.Policy != nil {
			p, err := rs.Policy.policy()
			if err != nil {
				errs = append(errs, fmt.Errorf("route %d (%s): %w", i, rs.Prefix, err))
				continue
			}
			rt.Policy = p
		}
		routes = append(routes, rt)
	}

	var opts []ratelimit.RouteOption
	if rf.Default != nil {
		p, err := rf.Default.policy()
		if err != nil {
			errs = append(errs, fmt.Errorf("default: %w", err))
		} else {
			opts = append(opts, ratelimit.WithDefaultPolicy(p))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errors.Join(ErrInvalidRules, err)
	}

	rp, err := ratelimit.NewRouteProvider(keyFn, routes, opts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidRules, err)
	}
	return rp, nil
}

// envRules monta o equivalente a um arquivo com só a policy default, a partir
// das variáveis RATE_*.
func envRules(cfg config) rulesFile {
	return rulesFile{
		Key: keySpec{
			Header:   cfg.KeyHeader,
			TrustXFF: cfg.TrustXFF,
			Bearer:   cfg.JWTSecret != "",
		},
		Default: &policySpec{
			Tokens: cfg.Tokens,
			Period: cfg.Period,
			Burst:  cfg.Burst,
		},
	}
}

func rulesFromConfig(cfg config) (rulesFile, error) {
	if cfg.RulesFile == "" {
		return envRules(cfg), nil
	}
	return loadRules(cfg.RulesFile)
}
