package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/auth"
	httperrors "github.com/classpulse/livequiz/pkg/http/errors"
	"github.com/classpulse/livequiz/pkg/http/ws"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is the platform gateway's job; the engine sits
		// behind it.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WSHandler bridges WebSocket connections to the session engine: inbound
// commands (subscribe, submit, host controls) and the outbound event stream.
type WSHandler struct {
	service  *Service
	hub      *ws.Hub
	verifier *auth.Verifier
	logger   zerolog.Logger
}

// NewWSHandler creates the WebSocket handler.
func NewWSHandler(service *Service, hub *ws.Hub, verifier *auth.Verifier, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		service:  service,
		hub:      hub,
		verifier: verifier,
		logger:   logger.With().Str("component", "session_ws").Logger(),
	}
}

// HandleWebSocket upgrades the connection after validating the caller's
// token from the query string.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Missing token")
		return
	}

	ident, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket token validation failed")
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid token")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.handleConnection(conn, ident)
}

func (h *WSHandler) handleConnection(conn *websocket.Conn, ident *auth.Identity) {
	connID := uuid.New()
	wsConn := ws.NewConnection(conn, h.logger)
	h.hub.Register(connID, wsConn)

	go wsConn.WritePump()

	// Sessions this connection subscribed to, so a drop can mark the
	// participant as left without losing their score or responses.
	subscribed := make(map[uuid.UUID]struct{})

	wsConn.ReadPump(func(msg ws.Message) error {
		return h.handleMessage(context.Background(), connID, ident, subscribed, msg)
	})

	h.hub.Unregister(connID)
	for sessionID := range subscribed {
		if err := h.service.Leave(context.Background(), sessionID, ident.UserID); err != nil {
			h.logger.Debug().Err(err).Str("session_id", sessionID.String()).Msg("leave on disconnect skipped")
		}
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, connID uuid.UUID, ident *auth.Identity, subscribed map[uuid.UUID]struct{}, msg ws.Message) error {
	switch msg.Type {
	case ws.TypeSubscribe:
		return h.handleSubscribe(ctx, connID, ident, subscribed, msg.Payload)
	case ws.TypeSubmitAnswer:
		return h.handleSubmitAnswer(ctx, connID, ident, msg.Payload)
	case ws.TypeAdvance:
		return h.handleHostCommand(ctx, connID, ident, msg.Payload, h.service.Advance)
	case ws.TypeEndSession:
		return h.handleHostCommand(ctx, connID, ident, msg.Payload, h.service.End)
	case ws.TypeLeave:
		return h.handleLeave(ctx, connID, ident, subscribed, msg.Payload)
	default:
		return h.sendError(connID, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *WSHandler) handleSubscribe(ctx context.Context, connID uuid.UUID, ident *auth.Identity, subscribed map[uuid.UUID]struct{}, payload json.RawMessage) error {
	var req ws.SubscribePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid subscribe payload")
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid session id")
	}

	sess, err := h.service.GetByID(ctx, sessionID)
	if err != nil {
		return h.sendDomainError(connID, err)
	}
	if sess.Status == StatusEnded {
		return h.sendError(connID, httperrors.ErrCodeGone, "Session has ended")
	}

	h.hub.Subscribe(sessionID, connID)
	// Hosts subscribe without appearing in the roster.
	if sess.HostID != ident.UserID {
		subscribed[sessionID] = struct{}{}
	}
	return nil
}

func (h *WSHandler) handleSubmitAnswer(ctx context.Context, connID uuid.UUID, ident *auth.Identity, payload json.RawMessage) error {
	receivedAt := time.Now()

	var req ws.SubmitAnswerPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid submit_answer payload")
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid session id")
	}

	result, err := h.service.SubmitAnswer(ctx, sessionID, ident.UserID, req.QuestionIndex, req.SelectedOption, receivedAt)
	if err != nil {
		if reason, rejected := RejectionReason(err); rejected {
			return h.hub.Send(connID, ws.NewEvent(ws.TypeAnswerAck, ws.AnswerAckPayload{
				SessionID:     req.SessionID,
				QuestionIndex: req.QuestionIndex,
				Accepted:      false,
				Reason:        reason,
			}))
		}
		return h.sendDomainError(connID, err)
	}

	return h.hub.Send(connID, ws.NewEvent(ws.TypeAnswerAck, ws.AnswerAckPayload{
		SessionID:       req.SessionID,
		QuestionIndex:   req.QuestionIndex,
		Accepted:        true,
		PointsEarned:    result.PointsEarned,
		CumulativeScore: result.CumulativeScore,
	}))
}

func (h *WSHandler) handleHostCommand(ctx context.Context, connID uuid.UUID, ident *auth.Identity, payload json.RawMessage, cmd func(ctx context.Context, sessionID, callerID uuid.UUID) (*Session, error)) error {
	var req ws.AdvancePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid payload")
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid session id")
	}

	if _, err := cmd(ctx, sessionID, ident.UserID); err != nil {
		return h.sendDomainError(connID, err)
	}
	return nil
}

func (h *WSHandler) handleLeave(ctx context.Context, connID uuid.UUID, ident *auth.Identity, subscribed map[uuid.UUID]struct{}, payload json.RawMessage) error {
	var req ws.LeavePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid leave payload")
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return h.sendError(connID, httperrors.ErrCodeInvalidPayload, "Invalid session id")
	}

	h.hub.Unsubscribe(sessionID, connID)
	if _, tracked := subscribed[sessionID]; tracked {
		delete(subscribed, sessionID)
		if err := h.service.Leave(ctx, sessionID, ident.UserID); err != nil {
			return h.sendDomainError(connID, err)
		}
	}
	return nil
}

func (h *WSHandler) sendDomainError(connID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return h.sendError(connID, httperrors.ErrCodeNotFound, "Session not found")
	case errors.Is(err, ErrGone):
		return h.sendError(connID, httperrors.ErrCodeGone, "Session has ended")
	case errors.Is(err, ErrInvalidTransition):
		return h.sendError(connID, httperrors.ErrCodeInvalidTransition, "Operation not valid in the session's current state")
	case errors.Is(err, ErrUnauthorized):
		return h.sendError(connID, httperrors.ErrCodeHostOnly, "Only the session host may perform this operation")
	default:
		h.logger.Warn().Err(err).Msg("websocket command failed")
		return h.sendError(connID, httperrors.ErrCodeInternalError, "Internal error")
	}
}

func (h *WSHandler) sendError(connID uuid.UUID, code, message string) error {
	return h.hub.Send(connID, ws.NewEvent(ws.TypeError, ws.ErrorPayload{Code: code, Message: message}))
}
