package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"

	"throttle-gateway/middleware/ratelimit/domain"
)

var (
	ErrKeyFuncRequired = errors.New("key func is required")
	ErrInvalidRoute    = errors.New("invalid route")
)

const (
	missingKeyDetail = "cannot define key for request"
	// defaultResource nomeia o bucket de WithDefaultPolicy; reservado.
	defaultResource = "default"
)

// KeyPolicy aplica a mesma policy a todas as requisições, uma cota por chave.
// Requisição sem chave é erro de provisionamento.
func KeyPolicy(keyFn KeyFunc, policy domain.Policy) (domain.RuleProvider[*http.Request], error) {
	if keyFn == nil {
		return nil, ErrKeyFuncRequired
	}
	return domain.RuleProviderFunc[*http.Request](func(r *http.Request) (*domain.Rule, error) {
		key := keyFn(r)
		if key == "" {
			return nil, domain.NewProvideRuleError("", missingKeyDetail)
		}
		rule := domain.NewRule(domain.Key(key), policy)
		return &rule, nil
	}), nil
}

// Route associa um método (vazio = qualquer) e um prefixo de path a uma
// policy. Rotas Exempt não são limitadas.
//
// O prefixo casa por segmento sobre o path limpo (path.Clean): "/public"
// casa "/public" e "/public/x", mas não "/publicity" nem "/public/../api".
type Route struct {
	Name   string
	Method string
	Prefix string
	Policy domain.Policy
	Exempt bool
}

func (rt Route) resource() string {
	if rt.Name != "" {
		return rt.Name
	}
	m := rt.Method
	if m == "" {
		m = "*"
	}
	return m + " " + rt.Prefix
}

func (rt Route) matches(r *http.Request) bool {
	if rt.Method != "" && !strings.EqualFold(rt.Method, r.Method) {
		return false
	}
	return matchPrefix(path.Clean(r.URL.Path), rt.Prefix)
}

func matchPrefix(p, prefix string) bool {
	base := strings.TrimSuffix(prefix, "/")
	return p == base || strings.HasPrefix(p, base+"/")
}

// RouteProvider escolhe a policy pela rota. Vale o prefixo mais longo; em
// empate, a rota com método explícito. Cada rota tem seu próprio bucket
// (a chave do cliente é prefixada pelo nome da rota, ou por "default" quando
// vale a policy padrão).
type RouteProvider struct {
	keyFn    KeyFunc
	routes   []Route
	fallback domain.Policy
}

type RouteOption func(*RouteProvider)

// WithDefaultPolicy limita requisições que não casam com nenhuma rota.
// Sem ela, essas requisições passam sem regra.
func WithDefaultPolicy(p domain.Policy) RouteOption {
	return func(rp *RouteProvider) { rp.fallback = p }
}

func NewRouteProvider(keyFn KeyFunc, routes []Route, opts ...RouteOption) (*RouteProvider, error) {
	if keyFn == nil {
		return nil, ErrKeyFuncRequired
	}

	var errs []error
	seen := make(map[string]bool, len(routes))
	for i, rt := range routes {
		switch {
		case !strings.HasPrefix(rt.Prefix, "/"):
			errs = append(errs, fmt.Errorf("%w %d: prefix %q must start with /", ErrInvalidRoute, i, rt.Prefix))
		case rt.resource() == defaultResource:
			errs = append(errs, fmt.Errorf("%w: name %q is reserved", ErrInvalidRoute, defaultResource))
		case !rt.Exempt && rt.Policy.IsZero():
			errs = append(errs, fmt.Errorf("%w %s: policy is required", ErrInvalidRoute, rt.resource()))
		case seen[rt.resource()]:
			errs = append(errs, fmt.Errorf("%w %s: duplicated", ErrInvalidRoute, rt.resource()))
		}
		seen[rt.resource()] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sorted := slices.Clone(routes)
	slices.SortStableFunc(sorted, func(a, b Route) int {
		if d := len(b.Prefix) - len(a.Prefix); d != 0 {
			return d
		}
		switch {
		case a.Method != "" && b.Method == "":
			return -1
		case a.Method == "" && b.Method != "":
			return 1
		}
		return 0
	})

	rp := &RouteProvider{keyFn: keyFn, routes: sorted}
	for _, opt := range opts {
		opt(rp)
	}
	return rp, nil
}

func (p *RouteProvider) Provide(r *http.Request) (*domain.Rule, error) {
	policy := p.fallback
	resource := defaultResource

	if rt, ok := p.match(r); ok {
		if rt.Exempt {
			return nil, nil
		}
		policy = rt.Policy
		resource = rt.resource()
	}
	if policy.IsZero() {
		return nil, nil
	}

	key := p.keyFn(r)
	if key == "" {
		return nil, domain.NewProvideRuleError("", missingKeyDetail)
	}
	rule := domain.NewRuleWithResource(domain.Key(resource+":"+key), policy, resource)
	return &rule, nil
}

func (p *RouteProvider) match(r *http.Request) (Route, bool) {
	for _, rt := range p.routes {
		if rt.matches(r) {
			return rt, true
		}
	}
	return Route{}, false
}

// Routes devolve as rotas na ordem de avaliação.
func (p *RouteProvider) Routes() []Route { return slices.Clone(p.routes) }
