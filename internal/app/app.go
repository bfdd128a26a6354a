package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/auth"
	"github.com/classpulse/livequiz/internal/config"
	"github.com/classpulse/livequiz/internal/logging"
	"github.com/classpulse/livequiz/internal/reporting"
	"github.com/classpulse/livequiz/internal/server"
	"github.com/classpulse/livequiz/internal/session"
	"github.com/classpulse/livequiz/internal/session/scoring"
	"github.com/classpulse/livequiz/internal/store/redisstore"
	ws "github.com/classpulse/livequiz/pkg/http/ws"
)

// Application aggregates shared infrastructure (store, hub, HTTP server).
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	redis *redis.Client
	pool  *pgxpool.Pool
	http  *http.Server

	controller *session.Controller
	sweeper    *session.Sweeper
	bgCancels  []context.CancelFunc
}

// New bootstraps config, logger, Redis, optional Postgres reporting, and the
// HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting engine bootstrap")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	var pool *pgxpool.Pool
	var sink reporting.Sink = reporting.Discard{}
	if cfg.Postgres.Enabled() {
		connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=10",
			cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Database, cfg.Postgres.SSLMode)

		var err error
		pool, err = pgxpool.New(ctx, connString)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		sink = reporting.NewPostgresSink(pool, logger)
		logger.Info().Msg("reporting sink enabled")
	} else {
		logger.Warn().Msg("no reporting database configured; finalized records are discarded")
	}

	verifier := auth.NewVerifier([]byte(cfg.Security.TokenSecret))
	store := redisstore.New(redisClient, logger)
	hub := ws.NewHub(logger)

	svc := session.NewService(store, hub, sink, session.ServiceOptions{
		SessionTTL:      cfg.Session.TTL,
		ResultsInterval: cfg.Session.ResultsInterval,
		Scoring:         scoring.Config{MinFraction: cfg.Session.MinScoreFraction},
	}, logger)

	controller := session.NewController(svc, logger)
	sweeper := session.NewSweeper(svc, cfg.Session.SweepInterval, logger)

	httpHandlers := session.NewHTTPHandlers(svc, verifier, logger)
	wsHandler := session.NewWSHandler(svc, hub, verifier, logger)

	apiServer := server.NewHTTPServer(cfg, logger, redisClient, httpHandlers, wsHandler.HandleWebSocket)

	return &Application{
		cfg:        cfg,
		logger:     logger,
		redis:      redisClient,
		pool:       pool,
		http:       apiServer,
		controller: controller,
		sweeper:    sweeper,
		bgCancels:  make([]context.CancelFunc, 0, 2),
	}, nil
}

// Run starts the HTTP server and waits for termination signals.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.startBackgroundWorkers(ctx)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	for _, cancel := range a.bgCancels {
		cancel()
	}

	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return nil
}

func (a *Application) startBackgroundWorkers(ctx context.Context) {
	for _, worker := range []interface {
		Run(context.Context) error
	}{a.controller, a.sweeper} {
		bgCtx, cancel := context.WithCancel(ctx)
		a.bgCancels = append(a.bgCancels, cancel)
		w := worker
		go func() {
			if err := w.Run(bgCtx); err != nil && err != context.Canceled {
				a.logger.Warn().Err(err).Msg("background worker stopped")
			}
		}()
	}
}
