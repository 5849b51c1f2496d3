package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// ErrorHandler responde a requisições bloqueadas (*domain.RateLimitError) e a
// falhas de provisionamento/store/decode. É o único lugar que decide status e
// corpo; veja DefaultErrorHandler e FailOpen.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err domain.Error)

type Options struct {
	Provider     domain.RuleProvider[*http.Request]
	Conn         domain.Conn
	ErrorHandler ErrorHandler

	// OnSuccess roda uma vez para requisições admitidas, antes do handler
	// seguinte enviar o status (ou logo depois dele retornar sem escrever).
	OnSuccess func(h http.Header, d domain.AllowedDetails)
	// OnUnruled idem, para requisições sem regra.
	OnUnruled func(h http.Header)

	// Stats é opcional e best-effort. Record roda depois da resposta (handler
	// seguinte ou ErrorHandler), fora do caminho de admissão; um store remoto
	// como RedisStatsStore custa uma ida extra ao servidor por requisição.
	Stats  domain.StatsStore
	Logger *zap.Logger
}

type middleware struct {
	svc       application.Service[*http.Request]
	onError   ErrorHandler
	onSuccess func(http.Header, domain.AllowedDetails)
	onUnruled func(http.Header)
	stats     domain.StatsStore
	log       *zap.Logger
	now       func() time.Time
}

// New monta o middleware net/http. Falha se Provider, Conn ou ErrorHandler
// estiverem ausentes.
func New(opts Options) (func(http.Handler) http.Handler, error) {
	if opts.ErrorHandler == nil {
		return nil, application.ErrErrorHandlerRequired
	}
	svc, err := application.NewService(opts.Provider, opts.Conn)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &middleware{
		svc:       svc,
		onError:   opts.ErrorHandler,
		onSuccess: opts.OnSuccess,
		onUnruled: opts.OnUnruled,
		stats:     opts.Stats,
		log:       opts.Logger.Named("ratelimit"),
		now:       time.Now,
	}
	return m.wrap, nil
}

func (m *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := m.svc.Enforce(r.Context(), r)
		if err != nil {
			m.fail(w, withNext(r, next), err)
			return
		}
		defer m.record(r, out)

		switch out.Kind {
		case domain.OutcomeThrottled:
			m.log.Debug("request throttled",
				zap.String("key", out.Rule.Key.String()),
				zap.String("policy", out.Rule.Policy.String()),
				zap.String("resource", out.Rule.Resource),
				zap.Duration("retry_after", out.Decision.RetryAfter),
			)
			m.onError(w, r, &domain.RateLimitError{Rule: out.Rule, Decision: out.Decision})

		case domain.OutcomeAdmitted:
			var hook func(http.Header)
			if m.onSuccess != nil {
				details := application.AllowedDetails(out)
				hook = func(h http.Header) { m.onSuccess(h, details) }
			}
			serveWithHook(next, w, r, hook)

		default:
			serveWithHook(next, w, r, m.onUnruled)
		}
	})
}

func (m *middleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	var derr domain.Error
	if !errors.As(err, &derr) {
		// cliente desistiu no meio da ida ao store: não há a quem responder
		m.log.Debug("request canceled while throttling",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		return
	}

	fields := []zap.Field{
		zap.Stringer("kind", derr.Kind()),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(derr),
	}
	if derr.Kind() == domain.KindProvideRule {
		m.log.Debug("rate limit rule not provided", fields...)
	} else {
		m.log.Error("rate limit check failed", fields...)
	}
	m.onError(w, r, derr)
}

func (m *middleware) record(r *http.Request, out domain.Outcome) {
	if m.stats == nil {
		return
	}
	err := m.stats.Record(r.Context(), domain.StatsEvent{
		Key:      out.Rule.Key,
		Outcome:  out.Kind,
		Resource: out.Rule.Resource,
		Method:   r.Method,
		Path:     r.URL.Path,
		At:       m.now(),
	})
	if err != nil {
		m.log.Warn("stats record failed", zap.Error(err))
	}
}

// serveWithHook chama next garantindo que hook rode exatamente uma vez, antes
// do status line ir para o cliente.
func serveWithHook(next http.Handler, w http.ResponseWriter, r *http.Request, hook func(http.Header)) {
	if hook == nil {
		next.ServeHTTP(w, r)
		return
	}
	hw := &hookWriter{ResponseWriter: w, hook: hook}
	next.ServeHTTP(hw, r)
	hw.fire()
}

type hookWriter struct {
	http.ResponseWriter
	hook  func(http.Header)
	fired bool
}

func (w *hookWriter) fire() {
	if w.fired {
		return
	}
	w.fired = true
	w.hook(w.ResponseWriter.Header())
}

func (w *hookWriter) WriteHeader(code int) {
	// 1xx não fecha os headers
	if code >= http.StatusOK {
		w.fire()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *hookWriter) Write(b []byte) (int, error) {
	w.fire()
	return w.ResponseWriter.Write(b)
}

func (w *hookWriter) Flush() {
	w.fire()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap permite que http.ResponseController enxergue o writer original.
func (w *hookWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
