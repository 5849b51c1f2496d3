package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"
	"throttle-gateway/middleware/ratelimit/infra/celltest"

	"github.com/alicebob/miniredis/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var frozen = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func frozenClock() time.Time { return frozen }

// harness guarda o que aconteceu em cada caminho terminal.
type harness struct {
	next      int
	onSuccess int
	onUnruled int
	errs      []domain.Error
}

func (h *harness) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.next++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func (h *harness) options(provider domain.RuleProvider[*http.Request], conn domain.Conn) Options {
	return Options{
		Provider: provider,
		Conn:     conn,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err domain.Error) {
			h.errs = append(h.errs, err)
			DefaultErrorHandler(w, r, err)
		},
		OnSuccess: func(hd http.Header, d domain.AllowedDetails) {
			h.onSuccess++
			SuccessHeaders(hd, d)
		},
		OnUnruled: func(hd http.Header) {
			h.onUnruled++
			hd.Set("X-RateLimit", "none")
		},
	}
}

func serve(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "10.0.0.1:1234"
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func apiKey(k string) http.Header { return http.Header{"X-Api-Key": []string{k}} }

func TestNew_Requires(t *testing.T) {
	provider := keyPolicy(t, DefaultKeyFunc("", false), domain.MustPolicy(domain.PerSecond(1)))
	conn := infra.NewMemoryThrottle()

	_, err := New(Options{Provider: provider, Conn: conn})
	assert.ErrorIs(t, err, application.ErrErrorHandlerRequired)

	_, err = New(Options{Conn: conn, ErrorHandler: DefaultErrorHandler})
	assert.ErrorIs(t, err, application.ErrProviderRequired)

	_, err = New(Options{Provider: provider, ErrorHandler: DefaultErrorHandler})
	assert.ErrorIs(t, err, application.ErrConnRequired)
}

func TestMiddleware_FivePerTenSecondsThroughRedis(t *testing.T) {
	srv := celltest.Run(t, infra.WithClock(frozenClock))
	conn := infra.NewRedisConn(srv.Client(t))

	h := &harness{}
	policy := domain.MustPolicy(domain.PerPeriod(5, 10*time.Second, domain.WithName("basic")))
	mw, err := New(h.options(keyPolicy(t, HeaderKey("X-Api-Key"), policy), conn))
	require.NoError(t, err)
	handler := mw(h.handler())

	for i := range 5 {
		w := serve(t, handler, http.MethodGet, "http://example/", apiKey("user-42"))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get(HeaderLimit))
		assert.Equal(t, strconv.Itoa(4-i), w.Header().Get(HeaderRemaining))
		assert.Equal(t, "basic", w.Header().Get(HeaderPolicy))
		assert.Empty(t, w.Header().Get(HeaderRetryAfter))
	}

	w := serve(t, handler, http.MethodGet, "http://example/", apiKey("user-42"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "5", w.Header().Get(HeaderLimit))
	assert.Equal(t, "0", w.Header().Get(HeaderRemaining))

	assert.Equal(t, 5, h.next)
	assert.Equal(t, 5, h.onSuccess)
	assert.Zero(t, h.onUnruled)
	require.Len(t, h.errs, 1)

	var rle *domain.RateLimitError
	require.ErrorAs(t, h.errs[0], &rle)
	assert.Equal(t, domain.Key("user-42"), rle.Rule.Key)
	assert.Equal(t, uint64(5), rle.Decision.Limit)
	assert.Equal(t, int64(6), srv.Calls())

	// outra chave tem seu próprio bucket
	w = serve(t, handler, http.MethodGet, "http://example/", apiKey("user-43"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_Unruled_SkipsStore(t *testing.T) {
	srv := celltest.Run(t)
	provider, err := NewRouteProvider(DefaultKeyFunc("", false), []Route{
		{Prefix: "/healthz", Exempt: true},
		{Prefix: "/api", Policy: domain.MustPolicy(domain.PerSecond(1))},
	})
	require.NoError(t, err)

	h := &harness{}
	mw, err := New(h.options(provider, infra.NewRedisConn(srv.Client(t))))
	require.NoError(t, err)

	w := serve(t, mw(h.handler()), http.MethodGet, "http://example/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "none", w.Header().Get("X-RateLimit"))
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, 1, h.next)
	assert.Equal(t, 1, h.onUnruled)
	assert.Zero(t, h.onSuccess)
	assert.Empty(t, h.errs)
	assert.Zero(t, srv.Calls())
}

func TestMiddleware_ProviderError_Unauthorized(t *testing.T) {
	srv := celltest.Run(t)
	h := &harness{}
	policy := domain.MustPolicy(domain.PerSecond(1))
	mw, err := New(h.options(keyPolicy(t, HeaderKey("X-Api-Key"), policy), infra.NewRedisConn(srv.Client(t))))
	require.NoError(t, err)

	w := serve(t, mw(h.handler()), http.MethodGet, "http://example/", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), missingKeyDetail)
	assert.Zero(t, h.next)
	assert.Zero(t, srv.Calls())
	require.Len(t, h.errs, 1)
	assert.Equal(t, domain.KindProvideRule, h.errs[0].Kind())
}

func TestMiddleware_MalformedReply_IsDecodeError(t *testing.T) {
	srv := celltest.Run(t)
	srv.ReplyWith(func(c *server.Peer) {
		c.WriteLen(4)
		for range 4 {
			c.WriteInt(0)
		}
	})

	h := &harness{}
	policy := domain.MustPolicy(domain.PerSecond(1))
	mw, err := New(h.options(keyPolicy(t, DefaultKeyFunc("", false), policy), infra.NewRedisConn(srv.Client(t))))
	require.NoError(t, err)

	w := serve(t, mw(h.handler()), http.MethodGet, "http://example/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, h.next)
	require.Len(t, h.errs, 1)
	assert.Equal(t, domain.KindDecode, h.errs[0].Kind())
}

func TestMiddleware_StoreError_LogsAndFails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	down := domain.ConnFunc(func(context.Context, ...any) (any, error) {
		return nil, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	})

	h := &harness{}
	opts := h.options(keyPolicy(t, DefaultKeyFunc("", false), domain.MustPolicy(domain.PerSecond(1))), down)
	opts.Logger = zap.New(core)
	mw, err := New(opts)
	require.NoError(t, err)

	w := serve(t, mw(h.handler()), http.MethodGet, "http://example/orders", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, h.next)
	require.Len(t, h.errs, 1)
	assert.Equal(t, domain.KindStore, h.errs[0].Kind())

	entries := logs.FilterMessage("rate limit check failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "store", entries[0].ContextMap()["kind"])
	assert.Equal(t, "/orders", entries[0].ContextMap()["path"])
}

func TestMiddleware_Canceled_RunsNothing(t *testing.T) {
	h := &harness{}
	opts := h.options(keyPolicy(t, DefaultKeyFunc("", false), domain.MustPolicy(domain.PerSecond(1))), infra.NewMemoryThrottle())
	mw, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	mw(h.handler()).ServeHTTP(w, r)

	assert.Empty(t, w.Body.String())
	assert.Zero(t, h.next)
	assert.Zero(t, h.onSuccess)
	assert.Zero(t, h.onUnruled)
	assert.Empty(t, h.errs)
}

func TestMiddleware_FailOpen(t *testing.T) {
	down := domain.ConnFunc(func(context.Context, ...any) (any, error) { return nil, errors.New("timeout") })
	policy := domain.MustPolicy(domain.PerSecond(1))

	h := &harness{}
	opts := h.options(keyPolicy(t, DefaultKeyFunc("", false), policy), down)
	opts.ErrorHandler = FailOpen(DefaultErrorHandler, domain.KindStore, domain.KindDecode)
	mw, err := New(opts)
	require.NoError(t, err)

	w := serve(t, mw(h.handler()), http.MethodGet, "http://example/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.next)
	assert.Zero(t, h.onSuccess)
	assert.Zero(t, h.onUnruled)
}

func TestMiddleware_FailOpen_NeverForThrottled(t *testing.T) {
	h := &harness{}
	opts := h.options(keyPolicy(t, DefaultKeyFunc("", false), domain.MustPolicy(domain.PerSecond(1))),
		infra.NewMemoryThrottle(infra.WithClock(frozenClock)))
	opts.ErrorHandler = FailOpen(DefaultErrorHandler, domain.KindStore, domain.KindRateLimit)
	mw, err := New(opts)
	require.NoError(t, err)
	handler := mw(h.handler())

	assert.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "http://example/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(t, handler, http.MethodGet, "http://example/", nil).Code)
	assert.Equal(t, 1, h.next)
}

func TestMiddleware_HookRunsOnceBeforeStatusLine(t *testing.T) {
	calls := 0
	mw, err := New(Options{
		Provider:     keyPolicy(t, DefaultKeyFunc("", false), domain.MustPolicy(domain.PerMinute(10))),
		Conn:         infra.NewMemoryThrottle(infra.WithClock(frozenClock)),
		ErrorHandler: DefaultErrorHandler,
		OnSuccess: func(hd http.Header, d domain.AllowedDetails) {
			calls++
			RateLimitHeaders(hd, d.Decision)
		},
	})
	require.NoError(t, err)

	t.Run("handler writes", func(t *testing.T) {
		calls = 0
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, "a")
			_, _ = io.WriteString(w, "b")
		})
		w := serve(t, mw(next), http.MethodPost, "http://example/", nil)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "ab", w.Body.String())
		assert.Equal(t, "10", w.Header().Get(HeaderLimit))
		assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
		assert.Equal(t, 1, calls)
	})

	t.Run("handler writes nothing", func(t *testing.T) {
		calls = 0
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		w := serve(t, mw(next), http.MethodGet, "http://example/", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(HeaderRemaining))
		assert.Equal(t, 1, calls)
	})

	t.Run("flush", func(t *testing.T) {
		calls = 0
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, http.NewResponseController(w).Flush())
			_, _ = io.WriteString(w, "streamed")
		})
		w := serve(t, mw(next), http.MethodGet, "http://example/", nil)

		assert.True(t, w.Flushed)
		assert.NotEmpty(t, w.Header().Get(HeaderLimit))
		assert.Equal(t, 1, calls)
	})
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	provider, err := NewRouteProvider(DefaultKeyFunc("", false), []Route{
		{Prefix: "/public", Exempt: true},
		{Name: "api", Prefix: "/api", Policy: domain.MustPolicy(domain.PerSecond(1))},
	})
	require.NoError(t, err)

	mw, err := New(Options{
		Provider:     provider,
		Conn:         infra.NewMemoryThrottle(infra.WithClock(frozenClock)),
		ErrorHandler: DefaultErrorHandler,
		Stats:        stats,
	})
	require.NoError(t, err)
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	serve(t, handler, http.MethodGet, "http://example/api/items", nil)
	serve(t, handler, http.MethodGet, "http://example/api/items", nil)
	serve(t, handler, http.MethodGet, "http://example/public/logo.png", nil)

	assert.Equal(t, infra.Counters{Admitted: 1, Throttled: 1, Unruled: 1}, stats.Total())
	assert.Equal(t, infra.Counters{Admitted: 1, Throttled: 1}, stats.ByRoute()["GET /api/items"])
	assert.Equal(t, infra.Counters{Admitted: 1, Throttled: 1}, stats.ByKey()["api:10.0.0.1"])
}

type statsFunc func(ctx context.Context, ev domain.StatsEvent) error

func (f statsFunc) Record(ctx context.Context, ev domain.StatsEvent) error { return f(ctx, ev) }

func TestMiddleware_RecordsStatsAfterResponse(t *testing.T) {
	var order []string
	stats := statsFunc(func(_ context.Context, ev domain.StatsEvent) error {
		order = append(order, "stats:"+ev.Outcome.String())
		return nil
	})

	mw, err := New(Options{
		Provider: keyPolicy(t, DefaultKeyFunc("", false), domain.MustPolicy(domain.PerSecond(1))),
		Conn:     infra.NewMemoryThrottle(infra.WithClock(frozenClock)),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err domain.Error) {
			order = append(order, "error")
			DefaultErrorHandler(w, r, err)
		},
		Stats: stats,
	})
	require.NoError(t, err)
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "next")
	}))

	serve(t, handler, http.MethodGet, "http://example/", nil)
	serve(t, handler, http.MethodGet, "http://example/", nil)

	assert.Equal(t, []string{"next", "stats:admitted", "error", "stats:throttled"}, order)
}
