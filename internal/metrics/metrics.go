package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exported at /metrics.
var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequiz_sessions_created_total",
		Help: "Live sessions created.",
	})

	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequiz_sessions_ended_total",
		Help: "Live sessions that reached the terminal state.",
	})

	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequiz_sessions_expired_total",
		Help: "Sessions purged by the expiry sweeper.",
	})

	AnswersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livequiz_answers_accepted_total",
		Help: "Answer submissions accepted and scored.",
	})

	AnswersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livequiz_answers_rejected_total",
		Help: "Answer submissions rejected, by reason subcode.",
	}, []string{"reason"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livequiz_events_published_total",
		Help: "State-change events broadcast through the fan-out hub, by type.",
	}, []string{"type"})
)
