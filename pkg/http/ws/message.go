package ws

import "encoding/json"

// Client -> server message types.
const (
	TypeSubscribe    = "subscribe"
	TypeSubmitAnswer = "submit_answer"
	TypeAdvance      = "advance"
	TypeEndSession   = "end_session"
	TypeLeave        = "leave"
)

// Server -> client event types. This is the closed set of session
// transitions; consumers switch over it exhaustively.
const (
	TypeParticipantCount = "participant_count"
	TypeQuestionOpened   = "question_opened"
	TypeQuestionClosed   = "question_closed"
	TypeLeaderboard      = "leaderboard"
	TypeSessionEnded     = "session_ended"
	TypeAnswerAck        = "answer_ack"
	TypeError            = "error"
)

// Message wraps every WebSocket payload with its type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client payloads (incoming)

type SubscribePayload struct {
	SessionID string `json:"session_id"`
}

type SubmitAnswerPayload struct {
	SessionID      string `json:"session_id"`
	QuestionIndex  int    `json:"question_index"`
	SelectedOption int    `json:"selected_option"`
}

type AdvancePayload struct {
	SessionID string `json:"session_id"`
}

type EndSessionPayload struct {
	SessionID string `json:"session_id"`
}

type LeavePayload struct {
	SessionID string `json:"session_id"`
}

// Server payloads (outgoing). Every transition event carries the session
// status and current question index so clients can detect and drop stale or
// duplicate deliveries; the store's serialized mutations are the true order.

type ParticipantCountPayload struct {
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	ParticipantCount int    `json:"participant_count"`
}

type QuestionOpenedPayload struct {
	SessionID     string   `json:"session_id"`
	Status        string   `json:"status"`
	QuestionIndex int      `json:"question_index"`
	QuestionCount int      `json:"question_count"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	TimeLimitSec  int      `json:"time_limit_sec"`
	Deadline      string   `json:"deadline"` // RFC3339, derived from the stored reveal time
}

// Tally is the per-option answer distribution revealed when a question closes.
type Tally struct {
	Counts       []int `json:"counts"` // one per option
	CorrectIndex int   `json:"correct_index"`
	Answered     int   `json:"answered"`
}

type QuestionClosedPayload struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	QuestionIndex int    `json:"question_index"`
	Tally         Tally  `json:"tally"`
}

type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
}

type LeaderboardPayload struct {
	SessionID     string             `json:"session_id"`
	Status        string             `json:"status"`
	QuestionIndex int                `json:"question_index"`
	Entries       []LeaderboardEntry `json:"entries"`
}

type SessionEndedPayload struct {
	SessionID string             `json:"session_id"`
	Status    string             `json:"status"`
	Final     []LeaderboardEntry `json:"final"`
}

type AnswerAckPayload struct {
	SessionID       string `json:"session_id"`
	QuestionIndex   int    `json:"question_index"`
	Accepted        bool   `json:"accepted"`
	Reason          string `json:"reason,omitempty"`
	PointsEarned    int    `json:"points_earned,omitempty"`
	CumulativeScore int    `json:"cumulative_score,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent marshals a payload into a typed Message. Marshal failures are
// programming errors on closed payload types, so they surface as a panic in
// tests rather than a silent drop.
func NewEvent(eventType string, payload any) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("ws: marshal event payload: " + err.Error())
	}
	return Message{Type: eventType, Payload: data}
}
