package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"throttle-gateway/middleware/ratelimit"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var (
	basicPolicy  = domain.MustPolicy(domain.PerSecond(1, domain.WithName("basic")))
	strictPolicy = domain.MustPolicy(domain.PerHour(5, domain.WithName("strict")))
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	// Exemplo: middleware direto no seu webserver (sem proxy), com o
	// CL.THROTTLE emulado em memória. Em produção troque por infra.NewRedisConn.
	throttle := infra.NewMemoryThrottle()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	throttle.StartJanitor(ctx)

	h, err := newHandler(throttle, log)
	if err != nil {
		log.Fatal("rate limit setup", zap.Error(err))
	}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

// newHandler: POST /articles usa a policy strict, o resto a basic.
// A chave vem do header x-api-key; sem ele a resposta é 401.
func newHandler(conn domain.Conn, log *zap.Logger) (http.Handler, error) {
	provider, err := ratelimit.NewRouteProvider(ratelimit.HeaderKey("X-Api-Key"), []ratelimit.Route{
		{Name: "articles::write", Method: http.MethodPost, Prefix: "/articles", Policy: strictPolicy},
	}, ratelimit.WithDefaultPolicy(basicPolicy))
	if err != nil {
		return nil, err
	}

	mw, err := ratelimit.New(ratelimit.Options{
		Provider: provider,
		Conn:     conn,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err domain.Error) {
			var rle *domain.RateLimitError
			if errors.As(err, &rle) {
				log.Warn("request throttled",
					zap.String("key", rle.Rule.Key.String()),
					zap.String("policy", rle.Rule.Policy.Name()),
					zap.String("resource", rle.Rule.Resource),
				)
			}
			ratelimit.DefaultErrorHandler(w, r, err)
		},
		OnSuccess: ratelimit.SuccessHeaders,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Hello, World!\n"))
	})
	r.Post("/articles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("article created\n"))
	})
	return r, nil
}
