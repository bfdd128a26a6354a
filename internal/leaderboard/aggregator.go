package leaderboard

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ResponseRecord mirrors a participant's recorded answer (kept independent of
// the session package to avoid an import cycle).
type ResponseRecord struct {
	QuestionIndex  int       `json:"question_index"`
	SelectedOption int       `json:"selected_option"`
	Correct        bool      `json:"correct"`
	PointsEarned   int       `json:"points_earned"`
	TimeToAnswerMs int64     `json:"time_to_answer_ms"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Contender is one participant as seen by the aggregator.
type Contender struct {
	ID          uuid.UUID
	DisplayName string
	Score       int
	JoinOrder   int
	Responses   []ResponseRecord
}

// Entry is one ranked row.
type Entry struct {
	Rank          int       `json:"rank"`
	ParticipantID uuid.UUID `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	Score         int       `json:"score"`
	AvgAnswerMs   int64     `json:"avg_answer_ms"`
}

// Rank orders contenders by cumulative score descending. Ties break on the
// earlier average time-to-answer across answered questions, then on join
// order, so identical input always yields identical output regardless of
// roster iteration order. Pure function: recomputing on the same responses
// gives the same ranking.
func Rank(contenders []Contender) []Entry {
	entries := make([]Entry, 0, len(contenders))
	order := make(map[uuid.UUID]int, len(contenders))
	for _, c := range contenders {
		order[c.ID] = c.JoinOrder
		entries = append(entries, Entry{
			ParticipantID: c.ID,
			DisplayName:   c.DisplayName,
			Score:         c.Score,
			AvgAnswerMs:   averageAnswerMs(c.Responses),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AvgAnswerMs != b.AvgAnswerMs {
			return a.AvgAnswerMs < b.AvgAnswerMs
		}
		return order[a.ParticipantID] < order[b.ParticipantID]
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func averageAnswerMs(responses []ResponseRecord) int64 {
	if len(responses) == 0 {
		// Contenders with no answers sort after any answered tie at the same
		// score.
		return math.MaxInt64
	}
	var total int64
	for _, r := range responses {
		total += r.TimeToAnswerMs
	}
	return total / int64(len(responses))
}

// ParticipantRecord is one participant's finalized result.
type ParticipantRecord struct {
	ParticipantID uuid.UUID        `json:"participant_id"`
	DisplayName   string           `json:"display_name"`
	Score         int              `json:"score"`
	Responses     []ResponseRecord `json:"responses"`
}

// FinalRecord is the persisted shape handed to the reporting component when a
// session ends: identity, final ranking, and each participant's full response
// history.
type FinalRecord struct {
	SessionID    uuid.UUID           `json:"session_id"`
	ActivityID   uuid.UUID           `json:"activity_id"`
	Code         string              `json:"code"`
	HostID       uuid.UUID           `json:"host_id"`
	EndedAt      time.Time           `json:"ended_at"`
	Ranking      []Entry             `json:"ranking"`
	Participants []ParticipantRecord `json:"participants"`
}

// Finalize builds the reporting record for an ended session.
func Finalize(sessionID, activityID, hostID uuid.UUID, code string, endedAt time.Time, contenders []Contender) FinalRecord {
	records := make([]ParticipantRecord, 0, len(contenders))
	for _, c := range contenders {
		records = append(records, ParticipantRecord{
			ParticipantID: c.ID,
			DisplayName:   c.DisplayName,
			Score:         c.Score,
			Responses:     c.Responses,
		})
	}
	return FinalRecord{
		SessionID:    sessionID,
		ActivityID:   activityID,
		Code:         code,
		HostID:       hostID,
		EndedAt:      endedAt,
		Ranking:      Rank(contenders),
		Participants: records,
	}
}
