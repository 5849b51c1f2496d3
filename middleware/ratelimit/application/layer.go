package application

import (
	"context"
	"errors"

	"throttle-gateway/middleware/ratelimit/domain"
)

// HandlerFunc é o handler "downstream" de um pipeline qualquer (não só HTTP).
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// ErrorHandler produz a resposta final para erros e requisições bloqueadas
// (*domain.RateLimitError).
type ErrorHandler[Req, Resp any] func(err domain.Error, req Req) Resp

type hooks[Resp any] struct {
	onSuccess func(domain.AllowedDetails, *Resp)
	onUnruled func(*Resp)
}

type Option[Resp any] func(*hooks[Resp])

// WithOnSuccess roda depois do handler, só para requisições admitidas.
func WithOnSuccess[Resp any](h func(domain.AllowedDetails, *Resp)) Option[Resp] {
	return func(c *hooks[Resp]) { c.onSuccess = h }
}

// WithOnUnruled roda depois do handler, só para requisições sem regra.
func WithOnUnruled[Resp any](h func(*Resp)) Option[Resp] {
	return func(c *hooks[Resp]) { c.onUnruled = h }
}

// Config reúne o provider e os hooks de reação. Imutável depois de criado.
type Config[Req, Resp any] struct {
	provider domain.RuleProvider[Req]
	onError  ErrorHandler[Req, Resp]
	hooks    hooks[Resp]
}

// NewConfig falha se o provider ou o error handler não forem informados.
func NewConfig[Req, Resp any](provider domain.RuleProvider[Req], onError ErrorHandler[Req, Resp], opts ...Option[Resp]) (*Config[Req, Resp], error) {
	var errs []error
	if provider == nil {
		errs = append(errs, ErrProviderRequired)
	}
	if onError == nil {
		errs = append(errs, ErrErrorHandlerRequired)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	c := &Config[Req, Resp]{provider: provider, onError: onError}
	for _, opt := range opts {
		opt(&c.hooks)
	}
	return c, nil
}

// Layer aplica o rate limit a um HandlerFunc. Pode ser compartilhado entre
// goroutines.
type Layer[Req, Resp any] struct {
	svc Service[Req]
	cfg *Config[Req, Resp]
}

func NewLayer[Req, Resp any](cfg *Config[Req, Resp], conn domain.Conn) (*Layer[Req, Resp], error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	svc, err := NewService(cfg.provider, conn)
	if err != nil {
		return nil, err
	}
	return &Layer[Req, Resp]{svc: svc, cfg: cfg}, nil
}

func (l *Layer[Req, Resp]) Wrap(next HandlerFunc[Req, Resp]) HandlerFunc[Req, Resp] {
	return func(ctx context.Context, req Req) (Resp, error) {
		out, err := l.svc.Enforce(ctx, req)
		if err != nil {
			var derr domain.Error
			if errors.As(err, &derr) {
				return l.cfg.onError(derr, req), nil
			}
			var zero Resp
			return zero, err
		}
		return l.dispatch(ctx, req, out, next)
	}
}
