package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/leaderboard"
	"github.com/classpulse/livequiz/internal/metrics"
	"github.com/classpulse/livequiz/internal/reporting"
	"github.com/classpulse/livequiz/internal/session/scoring"
	"github.com/classpulse/livequiz/pkg/http/ws"
)

// Broadcaster is the fan-out side of the engine: fire-and-forget delivery of
// a state-change event to every subscriber of a session.
type Broadcaster interface {
	Publish(sessionID uuid.UUID, msg ws.Message)
}

// ServiceOptions configures session runtime behavior.
type ServiceOptions struct {
	// SessionTTL bounds a session's lifetime regardless of status. Default 24h.
	SessionTTL time.Duration
	// ResultsInterval is how long the closed-question results stay up before
	// the next question opens automatically. Default 8s.
	ResultsInterval time.Duration
	// Scoring configures the point decay curve.
	Scoring scoring.Config
}

func (o *ServiceOptions) applyDefaults() {
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.ResultsInterval <= 0 {
		o.ResultsInterval = 8 * time.Second
	}
}

// Service orchestrates session lifecycle, answer ingestion, and state
// broadcasts. Every mutation funnels through the store's atomic Mutate, so
// concurrent host commands and participant submissions serialize there.
type Service struct {
	store      Store
	codes      *CodeGenerator
	hub        Broadcaster
	scorer     *scoring.Engine
	reporter   reporting.Sink
	controller *Controller
	opts       ServiceOptions
	logger     zerolog.Logger
}

// NewService creates the session engine service.
func NewService(store Store, hub Broadcaster, reporter reporting.Sink, opts ServiceOptions, logger zerolog.Logger) *Service {
	opts.applyDefaults()
	if reporter == nil {
		reporter = reporting.Discard{}
	}
	return &Service{
		store:    store,
		codes:    NewCodeGenerator(store),
		hub:      hub,
		scorer:   scoring.NewEngine(opts.Scoring),
		reporter: reporter,
		opts:     opts,
		logger:   logger.With().Str("component", "session_service").Logger(),
	}
}

// AttachController wires the progression controller that drives timers. The
// service kicks it on host-driven transitions so deadlines reschedule
// immediately instead of waiting for the next poll.
func (s *Service) AttachController(c *Controller) {
	s.controller = c
}

// Create mints a join code and persists a new waiting session from a
// finished activity definition.
func (s *Service) Create(ctx context.Context, activity Activity, hostID uuid.UUID) (*Session, error) {
	if err := validateActivity(activity); err != nil {
		return nil, err
	}

	id := uuid.New()
	code, err := s.codes.Generate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("generate join code: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:                   id,
		Code:                 code,
		HostID:               hostID,
		Activity:             activity,
		Status:               StatusWaiting,
		CurrentQuestionIndex: -1,
		CreatedAt:            now,
		ExpiresAt:            now.Add(s.opts.SessionTTL),
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	s.logger.Info().
		Str("session_id", id.String()).
		Str("code", code).
		Str("host_id", hostID.String()).
		Int("questions", len(activity.Questions)).
		Msg("session created")
	return sess, nil
}

// GetByCode resolves a join code to a participant-facing summary. Codes of
// ended sessions yield ErrGone; unknown codes yield ErrNotFound. A session
// past its expiry is lazily marked ended on lookup.
func (s *Service) GetByCode(ctx context.Context, code string) (*Summary, error) {
	sess, err := s.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	// The stores answer ErrGone for ended codes themselves, but a failed
	// release at session end can leave a live mapping behind; an ended
	// session is Gone however it was found.
	if sess.Status == StatusEnded {
		return nil, ErrGone
	}

	if sess.Expired(time.Now()) {
		if _, err := s.endSession(ctx, sess.ID, nil); err != nil && !errors.Is(err, ErrInvalidTransition) {
			s.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("lazy expiry failed")
		}
		return nil, ErrGone
	}

	summary := sess.Summarize()
	return &summary, nil
}

// Join registers a participant, or reconnects one that already exists in the
// roster: status resets to active and the join timestamp refreshes while
// score and responses survive. Participants are never removed mid-session.
func (s *Service) Join(ctx context.Context, code string, participantID uuid.UUID, displayName string) (*Session, error) {
	resolved, err := s.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Mutate(ctx, resolved.ID, func(sess *Session) error {
		if sess.Status == StatusEnded {
			return ErrGone
		}

		if existing := sess.FindParticipant(participantID); existing != nil {
			existing.Status = ParticipantActive
			existing.JoinedAt = time.Now()
			return nil
		}

		sess.Participants = append(sess.Participants, Participant{
			ID:          participantID,
			DisplayName: displayName,
			Status:      ParticipantJoined,
			JoinedAt:    time.Now(),
			JoinOrder:   len(sess.Participants),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishParticipantCount(sess)
	return sess, nil
}

// Leave marks a participant as disconnected. Their score and responses are
// kept so a later Join resumes where they left off.
func (s *Service) Leave(ctx context.Context, sessionID, participantID uuid.UUID) error {
	sess, err := s.store.Mutate(ctx, sessionID, func(sess *Session) error {
		p := sess.FindParticipant(participantID)
		if p == nil {
			return ErrNotFound
		}
		p.Status = ParticipantLeft
		return nil
	})
	if err != nil {
		return err
	}

	s.publishParticipantCount(sess)
	return nil
}

// Start opens question zero. Host-only; requires the waiting state.
func (s *Service) Start(ctx context.Context, sessionID, callerID uuid.UUID) (*Session, error) {
	now := time.Now()
	sess, err := s.store.Mutate(ctx, sessionID, func(sess *Session) error {
		if sess.HostID != callerID {
			return ErrUnauthorized
		}
		if sess.Status != StatusWaiting {
			return ErrInvalidTransition
		}

		sess.Status = StatusActive
		sess.StartedAt = now
		sess.CurrentQuestionIndex = 0
		sess.QuestionStartedAt = now
		sess.QuestionClosedAt = time.Time{}
		sess.Phase = PhaseQuestionOpen
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishQuestionOpened(sess)
	s.kickController(sess.ID)
	s.logger.Info().Str("session_id", sessionID.String()).Msg("session started")
	return sess, nil
}

// SubmitResult is the synchronous outcome of an accepted answer.
type SubmitResult struct {
	PointsEarned    int
	CumulativeScore int
}

// SubmitAnswer records one participant's answer to the currently open
// question. Acceptance is decided solely against the question window anchored
// at the stored reveal time, never against submission order among peers.
// Rejections come back as *RejectionError with a reason subcode.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, participantID uuid.UUID, questionIndex, selectedOption int, receivedAt time.Time) (*SubmitResult, error) {
	var result SubmitResult
	_, err := s.store.Mutate(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive {
			return Reject(RejectSessionNotActive)
		}
		if questionIndex != sess.CurrentQuestionIndex {
			return Reject(RejectWrongQuestion)
		}
		// The deadline gate holds even if the timer goroutine has not fired
		// yet: a submission past the stored deadline is late, not merely slow.
		if sess.Phase != PhaseQuestionOpen || receivedAt.After(sess.QuestionDeadline()) {
			return Reject(RejectQuestionClosed)
		}

		p := sess.FindParticipant(participantID)
		if p == nil {
			return ErrNotFound
		}
		if p.HasResponse(questionIndex) {
			return Reject(RejectAlreadyAnswered)
		}

		q := sess.CurrentQuestion()
		if selectedOption < 0 || selectedOption >= len(q.Options) {
			return fmt.Errorf("selected option %d out of range", selectedOption)
		}

		elapsed := receivedAt.Sub(sess.QuestionStartedAt)
		correct := selectedOption == q.CorrectIndex
		points := s.scorer.Score(correct, q.MaxPoints, elapsed, time.Duration(q.TimeLimitSec)*time.Second)

		p.Responses = append(p.Responses, Response{
			QuestionIndex:  questionIndex,
			SelectedOption: selectedOption,
			Correct:        correct,
			PointsEarned:   points,
			TimeToAnswerMs: elapsed.Milliseconds(),
			SubmittedAt:    receivedAt,
		})
		p.Score += points
		p.Status = ParticipantSubmitted

		result = SubmitResult{PointsEarned: points, CumulativeScore: p.Score}
		return nil
	})
	if err != nil {
		if reason, ok := RejectionReason(err); ok {
			metrics.AnswersRejected.WithLabelValues(reason).Inc()
		}
		return nil, err
	}

	metrics.AnswersAccepted.Inc()
	return &result, nil
}

// Advance is the host's progression command: it closes the open question
// early, or moves a closed question forward to the next one (or to the end).
func (s *Service) Advance(ctx context.Context, sessionID, callerID uuid.UUID) (*Session, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostID != callerID {
		return nil, ErrUnauthorized
	}
	if sess.Status != StatusActive {
		return nil, ErrInvalidTransition
	}

	if sess.Phase == PhaseQuestionOpen {
		return s.CloseQuestion(ctx, sessionID, sess.CurrentQuestionIndex)
	}
	return s.openNextOrEnd(ctx, sessionID)
}

// End force-terminates a session from any non-terminal state. Answers for the
// open question that were already serialized through the store are kept, so
// mid-submission participants are not penalized.
func (s *Service) End(ctx context.Context, sessionID, callerID uuid.UUID) (*Session, error) {
	return s.endSession(ctx, sessionID, &callerID)
}

// Leaderboard ranks participants by cumulative score with deterministic
// tie-breaking.
func (s *Service) Leaderboard(ctx context.Context, sessionID uuid.UUID) ([]leaderboard.Entry, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return leaderboard.Rank(contendersOf(sess)), nil
}

// GetByID exposes the stored session, e.g. for clients recovering state after
// missing broadcasts.
func (s *Service) GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return s.store.GetByID(ctx, sessionID)
}

// CloseQuestion transitions question-open to question-closed. The timer
// expiry and the host's early advance both land here, so late answers are
// rejected uniformly whichever path closed the window. Closing is idempotent
// per question index.
func (s *Service) CloseQuestion(ctx context.Context, sessionID uuid.UUID, questionIndex int) (*Session, error) {
	now := time.Now()
	changed := true
	sess, err := s.store.Mutate(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive || sess.CurrentQuestionIndex != questionIndex || sess.Phase != PhaseQuestionOpen {
			changed = false // already closed or moved on; nothing to do
			return nil
		}
		sess.Phase = PhaseQuestionClosed
		sess.QuestionClosedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publishQuestionClosed(sess)
		s.publishLeaderboard(sess)
		s.kickController(sess.ID)
	}
	return sess, nil
}

// openNextOrEnd advances past a closed question: opens the next one, or ends
// the session when none remain.
func (s *Service) openNextOrEnd(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	now := time.Now()
	ended := false
	sess, err := s.store.Mutate(ctx, sessionID, func(sess *Session) error {
		if sess.Status != StatusActive || sess.Phase != PhaseQuestionClosed {
			return ErrInvalidTransition
		}

		if sess.CurrentQuestionIndex+1 >= len(sess.Activity.Questions) {
			ended = true
			return nil
		}

		sess.CurrentQuestionIndex++
		sess.QuestionStartedAt = now
		sess.QuestionClosedAt = time.Time{}
		sess.Phase = PhaseQuestionOpen
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ended {
		return s.endSession(ctx, sessionID, nil)
	}

	s.publishQuestionOpened(sess)
	s.kickController(sess.ID)
	return sess, nil
}

// endSession is the single terminal transition. callerID nil means an
// engine-driven end (last question finished, expiry); otherwise the caller
// must be the host.
func (s *Service) endSession(ctx context.Context, sessionID uuid.UUID, callerID *uuid.UUID) (*Session, error) {
	now := time.Now()
	sess, err := s.store.Mutate(ctx, sessionID, func(sess *Session) error {
		if callerID != nil && sess.HostID != *callerID {
			return ErrUnauthorized
		}
		if sess.Status == StatusEnded {
			return ErrInvalidTransition
		}
		sess.Status = StatusEnded
		sess.Phase = ""
		sess.EndedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The code becomes reusable the moment the session ends.
	if err := s.store.ReleaseCode(ctx, sess.Code); err != nil {
		s.logger.Warn().Err(err).Str("code", sess.Code).Msg("release code failed")
	}

	final := leaderboard.Finalize(sess.ID, sess.Activity.ID, sess.HostID, sess.Code, sess.EndedAt, contendersOf(sess))
	if err := s.reporter.Record(ctx, final); err != nil {
		// Reporting is downstream of the engine; a sink failure must not
		// corrupt or roll back the terminal transition.
		s.logger.Error().Err(err).Str("session_id", sess.ID.String()).Msg("reporting sink failed")
	}

	s.publishSessionEnded(sess, final)
	metrics.SessionsEnded.Inc()
	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Int("participants", len(sess.Participants)).
		Msg("session ended")
	return sess, nil
}

// ListLive returns the ids of all non-ended sessions.
func (s *Service) ListLive(ctx context.Context) ([]uuid.UUID, error) {
	return s.store.ListLive(ctx)
}

// DeleteExpired purges sessions past their safety valve.
func (s *Service) DeleteExpired(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx)
}

func (s *Service) kickController(sessionID uuid.UUID) {
	if s.controller != nil {
		s.controller.Kick(sessionID)
	}
}

func (s *Service) publishParticipantCount(sess *Session) {
	count := 0
	for _, p := range sess.Participants {
		if p.Status != ParticipantLeft {
			count++
		}
	}
	s.publish(sess, ws.NewEvent(ws.TypeParticipantCount, ws.ParticipantCountPayload{
		SessionID:        sess.ID.String(),
		Status:           sess.Status,
		ParticipantCount: count,
	}))
}

func (s *Service) publishQuestionOpened(sess *Session) {
	q := sess.CurrentQuestion()
	if q == nil {
		return
	}
	s.publish(sess, ws.NewEvent(ws.TypeQuestionOpened, ws.QuestionOpenedPayload{
		SessionID:     sess.ID.String(),
		Status:        sess.Status,
		QuestionIndex: sess.CurrentQuestionIndex,
		QuestionCount: len(sess.Activity.Questions),
		Text:          q.Text,
		Options:       q.Options,
		TimeLimitSec:  q.TimeLimitSec,
		Deadline:      sess.QuestionDeadline().Format(time.RFC3339Nano),
	}))
}

func (s *Service) publishQuestionClosed(sess *Session) {
	s.publish(sess, ws.NewEvent(ws.TypeQuestionClosed, ws.QuestionClosedPayload{
		SessionID:     sess.ID.String(),
		Status:        sess.Status,
		QuestionIndex: sess.CurrentQuestionIndex,
		Tally:         tallyFor(sess, sess.CurrentQuestionIndex),
	}))
}

func (s *Service) publishLeaderboard(sess *Session) {
	s.publish(sess, ws.NewEvent(ws.TypeLeaderboard, ws.LeaderboardPayload{
		SessionID:     sess.ID.String(),
		Status:        sess.Status,
		QuestionIndex: sess.CurrentQuestionIndex,
		Entries:       toWireEntries(leaderboard.Rank(contendersOf(sess))),
	}))
}

func (s *Service) publishSessionEnded(sess *Session, final leaderboard.FinalRecord) {
	s.publish(sess, ws.NewEvent(ws.TypeSessionEnded, ws.SessionEndedPayload{
		SessionID: sess.ID.String(),
		Status:    sess.Status,
		Final:     toWireEntries(final.Ranking),
	}))
}

func (s *Service) publish(sess *Session, msg ws.Message) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(sess.ID, msg)
	metrics.EventsPublished.WithLabelValues(msg.Type).Inc()
}

func tallyFor(sess *Session, questionIndex int) ws.Tally {
	q := &sess.Activity.Questions[questionIndex]
	tally := ws.Tally{
		Counts:       make([]int, len(q.Options)),
		CorrectIndex: q.CorrectIndex,
	}
	for _, p := range sess.Participants {
		for _, r := range p.Responses {
			if r.QuestionIndex == questionIndex {
				tally.Counts[r.SelectedOption]++
				tally.Answered++
			}
		}
	}
	return tally
}

func contendersOf(sess *Session) []leaderboard.Contender {
	contenders := make([]leaderboard.Contender, 0, len(sess.Participants))
	for _, p := range sess.Participants {
		responses := make([]leaderboard.ResponseRecord, 0, len(p.Responses))
		for _, r := range p.Responses {
			responses = append(responses, leaderboard.ResponseRecord{
				QuestionIndex:  r.QuestionIndex,
				SelectedOption: r.SelectedOption,
				Correct:        r.Correct,
				PointsEarned:   r.PointsEarned,
				TimeToAnswerMs: r.TimeToAnswerMs,
				SubmittedAt:    r.SubmittedAt,
			})
		}
		contenders = append(contenders, leaderboard.Contender{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			JoinOrder:   p.JoinOrder,
			Responses:   responses,
		})
	}
	return contenders
}

func toWireEntries(entries []leaderboard.Entry) []ws.LeaderboardEntry {
	out := make([]ws.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ws.LeaderboardEntry{
			Rank:          e.Rank,
			ParticipantID: e.ParticipantID.String(),
			DisplayName:   e.DisplayName,
			Score:         e.Score,
		})
	}
	return out
}

// NormalizeCode uppercases a hand-typed join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateActivity(activity Activity) error {
	if len(activity.Questions) == 0 {
		return fmt.Errorf("activity has no questions")
	}
	for i, q := range activity.Questions {
		if len(q.Options) != 4 {
			return fmt.Errorf("question %d: expected 4 options, got %d", i, len(q.Options))
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("question %d: correct index %d out of range", i, q.CorrectIndex)
		}
		if q.TimeLimitSec <= 0 {
			return fmt.Errorf("question %d: time limit must be positive", i)
		}
		if q.MaxPoints <= 0 {
			return fmt.Errorf("question %d: max points must be positive", i)
		}
	}
	return nil
}
