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

// StudentPortalHandler handles the student side of taking an exam.
type StudentPortalHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	examService *service.ExamService,
	attemptService *service.AttemptService,
	log zerolog.Logger,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		examService:    examService,
		attemptService: attemptService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/student/exams
// Lists exams the student may see, with the status derived at request time.
func (h *StudentPortalHandler) ListExams(c *gin.Context) {
	exams, err := h.examService.ListAvailable(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if exams == nil {
		exams = []model.AvailableExam{}
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempt
// Starts an attempt, or returns the open one.
func (h *StudentPortalHandler) StartAttempt(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	view, err := h.attemptService.Start(c.Request.Context(), examID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ResumeAttempt godoc
// GET /api/v1/student/exams/:exam_id/attempt
func (h *StudentPortalHandler) ResumeAttempt(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	view, err := h.attemptService.Resume(c.Request.Context(), examID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers
// Upserts one answer. The last write wins.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	saved, err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, middleware.GetActor(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answer": saved})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/submit
func (h *StudentPortalHandler) SubmitAttempt(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	attempt, err := h.attemptService.Submit(c.Request.Context(), attemptID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}
