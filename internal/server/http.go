package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/config"
	"github.com/classpulse/livequiz/internal/session"
)

// NewHTTPServer wires the engine's routes: health, metrics, the session REST
// surface, and the WebSocket event stream.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, redisClient *redis.Client, handlers *session.HTTPHandlers, wsHandler http.HandlerFunc) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pingDependencies(r.Context(), redisClient); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/sessions", handlers.CreateSession)
	mux.HandleFunc("GET /v1/sessions/code/{code}", handlers.LookupByCode)
	mux.HandleFunc("POST /v1/sessions/code/{code}/join", handlers.Join)
	mux.HandleFunc("GET /v1/sessions/{id}", handlers.GetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/start", handlers.Start)
	mux.HandleFunc("POST /v1/sessions/{id}/advance", handlers.Advance)
	mux.HandleFunc("POST /v1/sessions/{id}/end", handlers.End)
	mux.HandleFunc("POST /v1/sessions/{id}/answers", handlers.SubmitAnswer)
	mux.HandleFunc("GET /v1/sessions/{id}/leaderboard", handlers.Leaderboard)

	mux.HandleFunc("/ws/sessions", wsHandler)

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

func pingDependencies(ctx context.Context, redisClient *redis.Client) error {
	return redisClient.Ping(ctx).Err()
}
