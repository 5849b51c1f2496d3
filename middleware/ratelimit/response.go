package ratelimit

import (
	"context"
	"net/http"
	"slices"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderRetryAfter = "Retry-After"
)

// RateLimitHeaders escreve os X-RateLimit-* da decisão. Reset e Retry-After
// vão em segundos; Retry-After só para decisões bloqueadas.
func RateLimitHeaders(h http.Header, d domain.Decision) {
	h.Set(HeaderLimit, formatUint(d.Limit))
	h.Set(HeaderRemaining, formatUint(d.Remaining))
	h.Set(HeaderReset, formatSeconds(d.ResetAfter))
	if !d.Admitted {
		h.Set(HeaderRetryAfter, formatSeconds(max(d.RetryAfter, time.Second)))
	}
}

// SuccessHeaders é um OnSuccess pronto: headers da decisão e o nome da policy.
func SuccessHeaders(h http.Header, d domain.AllowedDetails) {
	RateLimitHeaders(h, d.Decision)
	if name := d.Policy.Name(); name != "" {
		h.Set(HeaderPolicy, name)
	}
}

// DefaultErrorHandler mapeia os erros para status:
//
//	RateLimit   -> 429 com Retry-After
//	ProvideRule -> 401
//	Store/Decode -> 503
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err domain.Error) {
	switch e := err.(type) {
	case *domain.RateLimitError:
		RateLimitHeaders(w.Header(), e.Decision)
		if name := e.Rule.Policy.Name(); name != "" {
			w.Header().Set(HeaderPolicy, name)
		}
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	case *domain.ProvideRuleError:
		http.Error(w, e.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}
}

// FailOpen deixa passar os erros dos kinds informados, seguindo para o
// próximo handler sem rodar hooks, e delega o resto para fallback.
// Nunca abre para KindRateLimit.
//
//	ratelimit.Options{ErrorHandler: ratelimit.FailOpen(ratelimit.DefaultErrorHandler, domain.KindStore)}
func FailOpen(fallback ErrorHandler, kinds ...domain.Kind) ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err domain.Error) {
		if err.Kind() != domain.KindRateLimit && slices.Contains(kinds, err.Kind()) {
			if next, ok := r.Context().Value(nextKey{}).(http.Handler); ok {
				next.ServeHTTP(w, r)
				return
			}
		}
		fallback(w, r, err)
	}
}

type nextKey struct{}

// withNext expõe o handler seguinte ao ErrorHandler (usado por FailOpen).
func withNext(r *http.Request, next http.Handler) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), nextKey{}, next))
}
