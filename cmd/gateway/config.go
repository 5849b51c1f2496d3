package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrUpstreamRequired = errors.New("UPSTREAM_URL is required")
	ErrInvalidConfig    = errors.New("invalid config")
)

type config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	UpstreamURL string `env:"UPSTREAM_URL"`

	RateEnabled bool `env:"RATE_ENABLED" envDefault:"true"`
	// memory: CL.THROTTLE emulado no processo (uma instância só).
	Store     string `env:"RATE_STORE" envDefault:"redis"`
	RulesFile string `env:"RATE_RULES_FILE"`

	// Policy única, usada quando não há RATE_RULES_FILE.
	// IMPORTANTE: burst é a rajada inicial. Com 0, burst = tokens.
	Tokens int64         `env:"RATE_TOKENS" envDefault:"10"`
	Period time.Duration `env:"RATE_PERIOD" envDefault:"1s"`
	Burst  int64         `env:"RATE_BURST" envDefault:"0"`

	KeyHeader string `env:"RATE_KEY_HEADER"`
	TrustXFF  bool   `env:"TRUST_XFF" envDefault:"false"`
	JWTSecret string `env:"RATE_JWT_SECRET"`
	FailOpen  bool   `env:"RATE_FAIL_OPEN" envDefault:"false"`

	ConcurrencyMax     int           `env:"CONCURRENCY_MAX" envDefault:"100"`
	ConcurrencyTimeout time.Duration `env:"CONCURRENCY_TIMEOUT" envDefault:"0"`

	Stats statsConfig

	Redis infra.RedisConfig

	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

type statsConfig struct {
	Enabled   bool          `env:"RATE_STATS_ENABLED" envDefault:"false"`
	Prefix    string        `env:"RATE_STATS_PREFIX" envDefault:"ratelimit:stats"`
	TTL       time.Duration `env:"RATE_STATS_TTL" envDefault:"24h"`
	Bucket    string        `env:"RATE_STATS_BUCKET" envDefault:"minute"`
	TrackKeys bool          `env:"RATE_STATS_TRACK_KEYS" envDefault:"false"`
}

// loadConfig lê o .env (se existir) e depois o ambiente.
func loadConfig(dotenv ...string) (config, error) {
	// .env é opcional
	_ = godotenv.Load(dotenv...)

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, errors.Join(ErrInvalidConfig, err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if c.Store != "redis" && c.Store != "memory" {
		errs = append(errs, fmt.Errorf("RATE_STORE must be redis or memory, got %q", c.Store))
	}
	if c.RulesFile == "" && c.Tokens <= 0 {
		errs = append(errs, errors.New("RATE_TOKENS must be > 0"))
	}
	if c.Burst < 0 {
		errs = append(errs, errors.New("RATE_BURST must be >= 0"))
	}
	if c.ConcurrencyMax < 0 {
		errs = append(errs, errors.New("CONCURRENCY_MAX must be >= 0"))
	}
	if c.Stats.Enabled && c.Store != "redis" {
		errs = append(errs, errors.New("RATE_STATS_ENABLED requires RATE_STORE=redis"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}
