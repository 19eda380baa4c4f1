package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionSubscriber opens a subscription to one session's event stream. It
// returns nil when no broker is configured.
type SessionSubscriber interface {
	SubscribeSession(ctx context.Context, sessionID uuid.UUID) *redis.PubSub
}

// WSHandler streams a proctoring session over a WebSocket. Every frame the
// client sends counts as contact, so the socket doubles as the heartbeat.
type WSHandler struct {
	sessionService *service.SessionService
	attemptService *service.AttemptService
	subscriber     SessionSubscriber
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	sessionService *service.SessionService,
	attemptService *service.AttemptService,
	subscriber SessionSubscriber,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		attemptService: attemptService,
		subscriber:     subscriber,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// wsSession is the per-connection state.
type wsSession struct {
	conn    *ws.Conn
	actor   model.Actor
	session *model.ExamSession
	log     zerolog.Logger
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
	actor := middleware.GetActor(c)
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	// Refuse ended sessions before upgrading so the client gets a proper
	// HTTP status.
	sess, err := h.sessionService.Heartbeat(c.Request.Context(), sessionID, actor)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	s := &wsSession{
		conn:    conn,
		actor:   actor,
		session: sess,
		log: h.log.With().
			Str("student_id", actor.UserID).
			Str("session_id", sessionID.String()).
			Logger(),
	}
	s.log.Info().Msg("Student connected")

	if h.subscriber != nil {
		if pubsub := h.subscriber.SubscribeSession(ctx, sessionID); pubsub != nil {
			defer pubsub.Close()
			go forward(ctx, pubsub.Channel(), conn)
		}
	}

	for {
		env, err := conn.ReadEnvelope()
		if env == nil {
			if ws.IsUnexpectedClose(err) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}
		if err != nil {
			_ = conn.WriteError(env.Ref, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
			continue
		}

		switch env.Action {
		case ws.ActionPing:
			_ = conn.WriteEvent(ws.EventPong, env.Ref, nil)
		case ws.ActionHeartbeat:
			h.handleHeartbeat(ctx, s, env)
		case ws.ActionSaveAnswer:
			h.handleSaveAnswer(ctx, s, env)
		case ws.ActionViolation:
			h.handleViolation(ctx, s, env)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, s, env)
		default:
			s.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = conn.WriteError(env.Ref, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		}
	}
}

// forward relays broker messages for the session until ctx ends.
func forward(ctx context.Context, ch <-chan *redis.Message, conn *ws.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteRaw(msg.Payload); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleHeartbeat(ctx context.Context, s *wsSession, env *ws.RequestEnvelope) {
	sess, err := h.sessionService.Heartbeat(ctx, s.session.ID, s.actor)
	if err != nil {
		h.writeError(s, env.Ref, err)
		return
	}
	s.session = sess
	_ = s.conn.WriteEvent(ws.EventHeartbeatAck, env.Ref, gin.H{
		"status":                  sess.Status,
		"reconnect_allowed_until": sess.ReconnectAllowedUntil,
	})
}

func (h *WSHandler) handleSaveAnswer(ctx context.Context, s *wsSession, env *ws.RequestEnvelope) {
	var req ws.SaveAnswerRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil {
		_ = s.conn.WriteError(env.Ref, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return
	}
	if fields := validator.Struct(&req); fields != nil {
		_ = s.conn.WriteError(env.Ref, string(response.ErrValidation), firstField(fields))
		return
	}
	attemptID, ok := h.linkedAttempt(ctx, s, env.Ref)
	if !ok {
		return
	}

	saved, err := h.attemptService.SaveAnswer(ctx, attemptID, s.actor, model.SaveAnswerRequest{
		QuestionID: req.QuestionID,
		Answer:     req.Answer,
	})
	if err != nil {
		h.writeError(s, env.Ref, err)
		return
	}
	_ = s.conn.WriteEvent(ws.EventSaved, env.Ref, saved)
}

func (h *WSHandler) handleViolation(ctx context.Context, s *wsSession, env *ws.RequestEnvelope) {
	var req ws.ViolationRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil {
		_ = s.conn.WriteError(env.Ref, string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return
	}
	if fields := validator.Struct(&req); fields != nil {
		_ = s.conn.WriteError(env.Ref, string(response.ErrValidation), firstField(fields))
		return
	}

	report := model.ClientViolationRequest{
		Type:      req.Type,
		Severity:  req.Severity,
		Count:     req.Count,
		Reference: req.Reference,
	}
	res, err := h.sessionService.RecordViolation(ctx, s.actor, report.Report(s.session.ID))
	if err != nil {
		h.writeError(s, env.Ref, err)
		return
	}
	if res.Session != nil {
		s.session = res.Session
	}
	_ = s.conn.WriteEvent(ws.EventViolation, env.Ref, res)
}

func (h *WSHandler) handleSubmit(ctx context.Context, s *wsSession, env *ws.RequestEnvelope) {
	attemptID, ok := h.linkedAttempt(ctx, s, env.Ref)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Submit(ctx, attemptID, s.actor)
	if err != nil {
		h.writeError(s, env.Ref, err)
		return
	}
	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt submitted over WebSocket")
	_ = s.conn.WriteEvent(ws.EventSubmitted, env.Ref, attempt)
}

// linkedAttempt returns the attempt the session is linked to. A session
// opened before its attempt gets linked on the next heartbeat, so one is
// taken here when nothing is linked yet.
func (h *WSHandler) linkedAttempt(ctx context.Context, s *wsSession, ref string) (uuid.UUID, bool) {
	if s.session.AttemptID == nil {
		sess, err := h.sessionService.Heartbeat(ctx, s.session.ID, s.actor)
		if err != nil {
			h.writeError(s, ref, err)
			return uuid.Nil, false
		}
		s.session = sess
	}
	if s.session.AttemptID == nil {
		_ = s.conn.WriteError(ref, string(response.ErrNotFound), "no attempt is linked to this session")
		return uuid.Nil, false
	}
	return *s.session.AttemptID, true
}

func (h *WSHandler) writeError(s *wsSession, ref string, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("WebSocket action failed")
	}
	_ = s.conn.WriteError(ref, string(code), response.GetMessage(code))
}

func firstField(fields map[string]string) string {
	for name, msg := range fields {
		if msg == "" {
			return name
		}
		return msg
	}
	return response.GetMessage(response.ErrValidation)
}
