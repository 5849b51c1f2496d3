package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"throttle-gateway/middleware/ratelimit"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var dotenv string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sobe o gateway (reverse proxy para UPSTREAM_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(dotenvFiles(dotenv)...)
			if err != nil {
				return err
			}
			if cfg.UpstreamURL == "" {
				return ErrUpstreamRequired
			}
			log, err := newLogger(cfg.LogFormat, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&dotenv, "env-file", "", "arquivo .env (padrão: ./.env, se existir)")
	return cmd
}

func dotenvFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

// backend agrupa o que depende do store escolhido.
type backend struct {
	conn   domain.Conn
	stats  domain.StatsStore
	health func(context.Context) error
	close  func()
}

func openBackend(ctx context.Context, cfg config) (backend, error) {
	if cfg.Store == "memory" {
		mt := infra.NewMemoryThrottle()
		mt.StartJanitor(ctx)
		return backend{
			conn:   mt,
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}

	rdb, err := infra.Connect(ctx, cfg.Redis)
	if err != nil {
		return backend{}, err
	}
	b := backend{
		conn:   infra.NewRedisConn(rdb),
		health: infra.Healthcheck(rdb),
		close:  func() { _ = rdb.Close() },
	}
	if cfg.Stats.Enabled {
		b.stats = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		)
	}
	return b, nil
}

func serve(ctx context.Context, cfg config, log *zap.Logger) error {
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}

	rules, err := rulesFromConfig(cfg)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h, err := newRouter(cfg, rules, b, proxy, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", target.String()),
		zap.Bool("rate_enabled", cfg.RateEnabled),
		zap.String("store", cfg.Store),
		zap.String("rules_file", cfg.RulesFile),
		zap.Int("concurrency_max", cfg.ConcurrencyMax),
		zap.Bool("fail_open", cfg.FailOpen),
		zap.Bool("stats", cfg.Stats.Enabled),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newRouter monta o handler: /healthz fora do rate limit e todo o resto
// limitado e repassado para upstream.
func newRouter(cfg config, rules rulesFile, b backend, upstream http.Handler, log *zap.Logger) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := b.health(req.Context()); err != nil {
			log.Warn("healthcheck failed", zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	if !cfg.RateEnabled {
		r.Handle("/*", upstream)
		return r, nil
	}

	provider, err := rules.provider(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	onError := ratelimit.ErrorHandler(ratelimit.DefaultErrorHandler)
	if cfg.FailOpen {
		onError = ratelimit.FailOpen(onError, domain.KindStore, domain.KindDecode)
	}

	mw, err := ratelimit.New(ratelimit.Options{
		Provider: provider,
		Conn: ratelimit.Bounded(b.conn, ratelimit.ConcurrencyOptions{
			Max:            cfg.ConcurrencyMax,
			AcquireTimeout: cfg.ConcurrencyTimeout,
		}),
		ErrorHandler: onError,
		OnSuccess:    ratelimit.SuccessHeaders,
		Stats:        b.stats,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	r.With(mw).Handle("/*", upstream)
	return r, nil
}
