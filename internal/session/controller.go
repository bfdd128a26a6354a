package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// retryDelay paces the watch loop when a due transition fails, e.g. the
// store is briefly unavailable. The deadline is already in the past at that
// point, so without a pause the loop would spin hot.
const retryDelay = time.Second

// Controller drives question progression. One goroutine per live session
// sleeps until the next stored deadline and applies the due transition:
// question-open closes when its time limit elapses, question-closed advances
// after the results-display interval, and a session past its expiry ends.
//
// Deadlines are always re-derived from timestamps persisted in the store
// (question-started-at, question-closed-at), never from an in-memory
// countdown, so the session progresses even if the host disconnects and the
// math survives a controller restart. Host commands arrive through Kick so
// the loop reschedules immediately instead of waking on a stale deadline.
type Controller struct {
	svc    *Service
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	pending []uuid.UUID
	watches map[uuid.UUID]chan struct{}
}

// NewController creates the progression controller for a service.
func NewController(svc *Service, logger zerolog.Logger) *Controller {
	c := &Controller{
		svc:     svc,
		logger:  logger.With().Str("component", "progression_controller").Logger(),
		watches: make(map[uuid.UUID]chan struct{}),
	}
	svc.AttachController(c)
	return c
}

// Run anchors the controller's lifetime to ctx and blocks until shutdown.
// Before blocking it resumes a watch for every live session in the store,
// so in-flight sessions keep progressing across a process restart; their
// deadlines re-derive from the persisted timestamps.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	live, err := c.svc.ListLive(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("resume live sessions failed")
	}
	for _, id := range live {
		c.Kick(id)
	}
	for _, id := range pending {
		c.Kick(id)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Kick ensures a watch loop exists for the session and wakes it so the next
// deadline is recomputed from fresh store state. Kicks arriving before Run
// are queued and resumed once the controller has its lifetime context, so
// no watch goroutine ever outlives shutdown.
func (c *Controller) Kick(sessionID uuid.UUID) {
	c.mu.Lock()
	if c.ctx == nil {
		c.pending = append(c.pending, sessionID)
		c.mu.Unlock()
		return
	}
	kick, ok := c.watches[sessionID]
	if !ok {
		kick = make(chan struct{}, 1)
		c.watches[sessionID] = kick
		go c.watch(c.ctx, sessionID, kick)
	}
	c.mu.Unlock()

	select {
	case kick <- struct{}{}:
	default: // a wake-up is already pending
	}
}

func (c *Controller) watch(ctx context.Context, sessionID uuid.UUID, kick chan struct{}) {
	defer func() {
		c.mu.Lock()
		delete(c.watches, sessionID)
		c.mu.Unlock()
	}()

	for {
		sess, err := c.svc.GetByID(ctx, sessionID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				c.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("watch read failed")
			}
			return
		}
		if sess.Status == StatusEnded {
			return
		}

		wake := c.nextDeadline(sess)
		if delay := time.Until(wake); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-kick:
				timer.Stop()
				continue // state changed under us; recompute
			case <-timer.C:
			}
		}

		if err := c.applyDueTransition(ctx, sess); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-kick:
			case <-time.After(retryDelay):
			}
		}
	}
}

func (c *Controller) nextDeadline(sess *Session) time.Time {
	switch {
	case sess.Status == StatusActive && sess.Phase == PhaseQuestionOpen:
		return sess.QuestionDeadline()
	case sess.Status == StatusActive && sess.Phase == PhaseQuestionClosed:
		return sess.QuestionClosedAt.Add(c.svc.opts.ResultsInterval)
	default:
		// Waiting sessions have no timer of their own; the expiry safety
		// valve is the only deadline left.
		return sess.ExpiresAt
	}
}

// applyDueTransition performs the transition whose deadline has passed. Each
// mutation re-checks state inside the store, so a host command racing the
// timer resolves to exactly one close per question.
func (c *Controller) applyDueTransition(ctx context.Context, sess *Session) error {
	switch {
	case sess.Expired(time.Now()):
		if _, err := c.svc.endSession(ctx, sess.ID, nil); err != nil && !errors.Is(err, ErrInvalidTransition) {
			c.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("expiry end failed")
			return err
		}
	case sess.Status == StatusActive && sess.Phase == PhaseQuestionOpen:
		if _, err := c.svc.CloseQuestion(ctx, sess.ID, sess.CurrentQuestionIndex); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("timed close failed")
			return err
		}
	case sess.Status == StatusActive && sess.Phase == PhaseQuestionClosed:
		if _, err := c.svc.openNextOrEnd(ctx, sess.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			c.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("auto advance failed")
			return err
		}
	}
	return nil
}
