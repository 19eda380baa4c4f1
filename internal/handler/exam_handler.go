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

// ExamHandler handles the teacher side: exam setup, ending and grading.
type ExamHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, attemptService *service.AttemptService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService:    examService,
		attemptService: attemptService,
		log:            log.With().Str("component", "exam_handler").Logger(),
	}
}

// CreateExam godoc
// POST /api/v1/teacher/exams
// Creates a SCHEDULED exam owned by the caller.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), middleware.GetActor(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// PublishExam godoc
// POST /api/v1/teacher/exams/:exam_id/publish
// Moves a SCHEDULED exam to ACTIVE, optionally replacing its window. The
// body may be empty.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.PublishExamRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	exam, err := h.examService.Publish(c.Request.Context(), middleware.GetActor(c), examID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// ConfigureRules godoc
// PUT /api/v1/teacher/exams/:exam_id/rules
func (h *ExamHandler) ConfigureRules(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.ConfigureRulesRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rules, err := h.examService.ConfigureRules(c.Request.Context(), middleware.GetActor(c), examID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rules": rules})
}

// EnrollStudents godoc
// POST /api/v1/teacher/exams/:exam_id/enrollments
func (h *ExamHandler) EnrollStudents(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.EnrollStudentsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	added, err := h.examService.Enroll(c.Request.Context(), middleware.GetActor(c), examID, req.StudentIDs)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"enrolled": added})
}

// EndExam godoc
// POST /api/v1/teacher/exams/:exam_id/end
// Ends the exam and closes every open attempt.
func (h *ExamHandler) EndExam(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	closed, err := h.attemptService.ForceEndExam(c.Request.Context(), examID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"submitted_attempts": closed})
}

// ReviewAttempt godoc
// GET /api/v1/teacher/exams/:exam_id/attempts/:attempt_id/review
func (h *ExamHandler) ReviewAttempt(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	review, err := h.attemptService.Review(c.Request.Context(), examID, attemptID, middleware.GetActor(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, review)
}

// ApplyGrades godoc
// PATCH /api/v1/teacher/exams/:exam_id/attempts/:attempt_id/grades
// Applies a grading patch guarded by expected_grading_version. A stale
// version answers 409 VERSION_CONFLICT and changes nothing.
func (h *ExamHandler) ApplyGrades(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.ApplyGradesRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.ApplyGrades(c.Request.Context(), examID, attemptID, middleware.GetActor(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}
