package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration for the live session engine.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"livequiz-engine"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Redis    Redis
	Postgres Postgres
	Security Security
	Session  Session
}

// Redis configures the authoritative session store.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Postgres configures the reporting sink. Leaving PG_HOST empty disables
// reporting; finalized records are then discarded.
type Postgres struct {
	Host     string `env:"PG_HOST"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER"`
	Password string `env:"PG_PASSWORD"`
	Database string `env:"PG_DATABASE"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// Enabled reports whether a reporting database is configured.
func (p Postgres) Enabled() bool {
	return p.Host != ""
}

// Security stores the shared secret for verifying platform-issued tokens.
type Security struct {
	TokenSecret string `env:"TOKEN_SECRET,notEmpty"`
}

// Session groups engine runtime knobs.
type Session struct {
	TTL              time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	ResultsInterval  time.Duration `env:"RESULTS_INTERVAL" envDefault:"8s"`
	SweepInterval    time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"10m"`
	MinScoreFraction float64       `env:"MIN_SCORE_FRACTION" envDefault:"0.5"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
