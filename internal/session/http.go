package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/auth"
	httperrors "github.com/classpulse/livequiz/pkg/http/errors"
)

// HTTPHandlers provides the REST surface of the engine. The WebSocket stream
// is the primary channel for state propagation; these endpoints cover
// discovery, host commands, and state recovery via polling.
type HTTPHandlers struct {
	service  *Service
	verifier *auth.Verifier
	logger   zerolog.Logger
}

// NewHTTPHandlers creates REST handlers for session endpoints.
func NewHTTPHandlers(service *Service, verifier *auth.Verifier, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		service:  service,
		verifier: verifier,
		logger:   logger.With().Str("component", "session_http").Logger(),
	}
}

// CreateSessionRequest is the POST /v1/sessions payload.
type CreateSessionRequest struct {
	Activity Activity `json:"activity"`
}

// CreateSessionResponse returns the discovery handle for a new session.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession handles POST /v1/sessions.
func (h *HTTPHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}

	sess, err := h.service.Create(r.Context(), req.Activity, ident.UserID)
	if err != nil {
		h.logger.Warn().Err(err).Msg("create session failed")
		httperrors.RespondBadRequest(w, httperrors.ErrCodeSessionCreateFailed, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID.String(),
		Code:      sess.Code,
		Status:    sess.Status,
		ExpiresAt: sess.ExpiresAt,
	})
}

// LookupByCode handles GET /v1/sessions/code/{code}.
func (h *HTTPHandlers) LookupByCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identify(w, r); !ok {
		return
	}

	summary, err := h.service.GetByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// JoinRequest is the POST /v1/sessions/code/{code}/join payload.
type JoinRequest struct {
	DisplayName string `json:"display_name"`
}

// Join handles POST /v1/sessions/code/{code}/join.
func (h *HTTPHandlers) Join(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = ident.DisplayName
	}
	if name == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeValidationFailed, "display_name is required")
		return
	}

	sess, err := h.service.Join(r.Context(), r.PathValue("code"), ident.UserID, name)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"session_id":     sess.ID.String(),
		"participant_id": ident.UserID.String(),
	})
}

// Start handles POST /v1/sessions/{id}/start.
func (h *HTTPHandlers) Start(w http.ResponseWriter, r *http.Request) {
	h.hostCommand(w, r, h.service.Start)
}

// Advance handles POST /v1/sessions/{id}/advance.
func (h *HTTPHandlers) Advance(w http.ResponseWriter, r *http.Request) {
	h.hostCommand(w, r, h.service.Advance)
}

// End handles POST /v1/sessions/{id}/end.
func (h *HTTPHandlers) End(w http.ResponseWriter, r *http.Request) {
	h.hostCommand(w, r, h.service.End)
}

// SubmitAnswerRequest is the POST /v1/sessions/{id}/answers payload.
type SubmitAnswerRequest struct {
	QuestionIndex  int `json:"question_index"`
	SelectedOption int `json:"selected_option"`
}

// SubmitAnswerResponse tells the participant exactly why a submission was
// refused, or what it earned.
type SubmitAnswerResponse struct {
	Accepted        bool   `json:"accepted"`
	Reason          string `json:"reason,omitempty"`
	PointsEarned    int    `json:"points_earned,omitempty"`
	CumulativeScore int    `json:"cumulative_score,omitempty"`
}

// SubmitAnswer handles POST /v1/sessions/{id}/answers. The receipt time is
// stamped here, at the engine boundary, so scoring and the window gate use
// server time rather than any client clock.
func (h *HTTPHandlers) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	receivedAt := time.Now()

	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}

	result, err := h.service.SubmitAnswer(r.Context(), sessionID, ident.UserID, req.QuestionIndex, req.SelectedOption, receivedAt)
	if err != nil {
		if reason, rejected := RejectionReason(err); rejected {
			respondJSON(w, http.StatusOK, SubmitAnswerResponse{Accepted: false, Reason: reason})
			return
		}
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, SubmitAnswerResponse{
		Accepted:        true,
		PointsEarned:    result.PointsEarned,
		CumulativeScore: result.CumulativeScore,
	})
}

// Leaderboard handles GET /v1/sessions/{id}/leaderboard.
func (h *HTTPHandlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identify(w, r); !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.Leaderboard(r.Context(), sessionID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetSession handles GET /v1/sessions/{id}. Clients that missed broadcasts
// recover the authoritative state here.
func (h *HTTPHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.GetByID(r.Context(), sessionID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	// Only the host sees the full session including correct answers.
	if sess.HostID == ident.UserID {
		respondJSON(w, http.StatusOK, sess)
		return
	}
	respondJSON(w, http.StatusOK, sess.Summarize())
}

func (h *HTTPHandlers) hostCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, sessionID, callerID uuid.UUID) (*Session, error)) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := cmd(r.Context(), sessionID, ident.UserID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":             sess.ID.String(),
		"status":                 sess.Status,
		"phase":                  sess.Phase,
		"current_question_index": sess.CurrentQuestionIndex,
	})
}

func (h *HTTPHandlers) identify(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return nil, false
	}

	ident, err := h.verifier.Verify(token)
	if err != nil {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid token")
		return nil, false
	}
	return ident, true
}

func (h *HTTPHandlers) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandlers) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Session not found")
	case errors.Is(err, ErrGone):
		httperrors.RespondGone(w, "Session has ended")
	case errors.Is(err, ErrInvalidTransition):
		httperrors.RespondConflict(w, httperrors.ErrCodeInvalidTransition, "Operation not valid in the session's current state")
	case errors.Is(err, ErrUnauthorized):
		httperrors.RespondForbidden(w, httperrors.ErrCodeHostOnly, "Only the session host may perform this operation")
	default:
		h.logger.Error().Err(err).Msg("session operation failed")
		httperrors.RespondInternalError(w, "Internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
