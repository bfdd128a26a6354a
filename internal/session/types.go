package session

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle states.
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusEnded   = "ended"
)

// Phase of the currently revealed question while a session is active.
const (
	PhaseQuestionOpen   = "question_open"
	PhaseQuestionClosed = "question_closed"
)

// Participant connection states.
const (
	ParticipantJoined    = "joined"
	ParticipantActive    = "active"
	ParticipantSubmitted = "submitted"
	ParticipantLeft      = "left"
)

// Question is a single timed multiple-choice item. The engine treats the
// activity as finished content; it never edits questions.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"` // exactly 4
	CorrectIndex int      `json:"correct_index"`
	TimeLimitSec int      `json:"time_limit_sec"`
	MaxPoints    int      `json:"max_points"`
}

// Activity is the ordered question list a session runs through.
// Immutable once a session starts.
type Activity struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Response records one participant's answer to one question.
// Immutable once written; duplicates for the same index are rejected upstream.
type Response struct {
	QuestionIndex  int       `json:"question_index"`
	SelectedOption int       `json:"selected_option"`
	Correct        bool      `json:"correct"`
	PointsEarned   int       `json:"points_earned"`
	TimeToAnswerMs int64     `json:"time_to_answer_ms"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Participant is one connected respondent inside a session. Participants are
// never removed mid-session; a "left" participant may rejoin and resume.
type Participant struct {
	ID          uuid.UUID  `json:"id"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	Score       int        `json:"score"`
	JoinedAt    time.Time  `json:"joined_at"`
	JoinOrder   int        `json:"join_order"`
	Responses   []Response `json:"responses"`
}

// Session is the single source of truth for one running activity. All
// mutation goes through Store.Mutate; nothing else may write these fields.
type Session struct {
	ID                   uuid.UUID     `json:"id"`
	Code                 string        `json:"code"`
	HostID               uuid.UUID     `json:"host_id"`
	Activity             Activity      `json:"activity"`
	Status               string        `json:"status"`
	Phase                string        `json:"phase,omitempty"`
	CurrentQuestionIndex int           `json:"current_question_index"` // -1 before start
	QuestionStartedAt    time.Time     `json:"question_started_at"`
	QuestionClosedAt     time.Time     `json:"question_closed_at"`
	Participants         []Participant `json:"participants"`
	CreatedAt            time.Time     `json:"created_at"`
	StartedAt            time.Time     `json:"started_at"`
	EndedAt              time.Time     `json:"ended_at"`
	ExpiresAt            time.Time     `json:"expires_at"`
}

// CurrentQuestion returns the revealed question, or nil before start / after
// the last question.
func (s *Session) CurrentQuestion() *Question {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Activity.Questions) {
		return nil
	}
	return &s.Activity.Questions[s.CurrentQuestionIndex]
}

// QuestionDeadline derives the submission deadline for the open question from
// the stored reveal timestamp. Timing is anchored server-side so every
// observer agrees on "closed" even across a process restart.
func (s *Session) QuestionDeadline() time.Time {
	q := s.CurrentQuestion()
	if q == nil {
		return time.Time{}
	}
	return s.QuestionStartedAt.Add(time.Duration(q.TimeLimitSec) * time.Second)
}

// FindParticipant returns the roster entry for id, or nil.
func (s *Session) FindParticipant(id uuid.UUID) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// HasResponse reports whether the participant already answered questionIndex.
func (p *Participant) HasResponse(questionIndex int) bool {
	for _, r := range p.Responses {
		if r.QuestionIndex == questionIndex {
			return true
		}
	}
	return false
}

// Expired reports whether the session passed its expiry safety valve.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Summary is the code-lookup view handed to participants before they join.
// Question content stays server-side until the question is revealed.
type Summary struct {
	SessionID        uuid.UUID `json:"session_id"`
	Code             string    `json:"code"`
	Status           string    `json:"status"`
	ActivityTitle    string    `json:"activity_title"`
	QuestionCount    int       `json:"question_count"`
	ParticipantCount int       `json:"participant_count"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Summarize builds the participant-facing view of a session.
func (s *Session) Summarize() Summary {
	return Summary{
		SessionID:        s.ID,
		Code:             s.Code,
		Status:           s.Status,
		ActivityTitle:    s.Activity.Title,
		QuestionCount:    len(s.Activity.Questions),
		ParticipantCount: len(s.Participants),
		ExpiresAt:        s.ExpiresAt,
	}
}
