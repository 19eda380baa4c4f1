package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionHandler handles proctoring session endpoints.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/sessions
// Opens a session for the exam, or returns the open one.
func (h *SessionHandler) StartSession(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	sess, err := h.sessionService.Start(c.Request.Context(), examID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// Heartbeat godoc
// POST /api/v1/student/sessions/:session_id/heartbeat
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	sess, err := h.sessionService.Heartbeat(c.Request.Context(), sessionID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// ResumeSession godoc
// POST /api/v1/student/sessions/:session_id/resume
// Reconnects within the reconnect window. Late reconnects answer 410.
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	sess, err := h.sessionService.Resume(c.Request.Context(), sessionID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// EndSession godoc
// POST /api/v1/student/sessions/:session_id/end
// POST /api/v1/teacher/sessions/:session_id/end
// Ends the session. The linked attempt is left open.
func (h *SessionHandler) EndSession(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	sess, err := h.sessionService.End(c.Request.Context(), sessionID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// ReportViolation godoc
// POST /api/v1/student/sessions/:session_id/violations
// Records a violation observed by the student's own client.
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	var req model.ClientViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.sessionService.RecordViolation(c.Request.Context(), middleware.GetActor(c), req.Report(sessionID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, res)
}

// ListViolations godoc
// GET /api/v1/teacher/sessions/:session_id/violations
func (h *SessionHandler) ListViolations(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	violations, err := h.sessionService.ListViolations(c.Request.Context(), sessionID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if violations == nil {
		violations = []model.Violation{}
	}
	response.Success(c, http.StatusOK, gin.H{"violations": violations})
}
