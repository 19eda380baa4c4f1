package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ReportPusher enqueues violation reports for the ingest worker.
type ReportPusher interface {
	Push(ctx context.Context, reports ...model.ViolationReport) error
}

// IngestHandler accepts violation batches from the AI and proctor pipeline.
type IngestHandler struct {
	queue          ReportPusher
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewIngestHandler creates a new IngestHandler. A nil queue records reports
// inline, which is how the memory store driver runs without Redis.
func NewIngestHandler(queue ReportPusher, sessionService *service.SessionService, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		queue:          queue,
		sessionService: sessionService,
		log:            log.With().Str("component", "ingest_handler").Logger(),
	}
}

// IngestViolations godoc
// POST /api/v1/ingest/violations
// Queues a batch of reports. The whole batch is rejected when any report
// does not name exactly one of session_id and attempt_id.
func (h *IngestHandler) IngestViolations(c *gin.Context) {
	var req model.IngestViolationsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	for _, r := range req.Reports {
		if (r.SessionID == nil) == (r.AttemptID == nil) {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidViolation)
			return
		}
	}

	if h.queue == nil {
		h.recordInline(c, req.Reports)
		return
	}

	if err := h.queue.Push(c.Request.Context(), req.Reports...); err != nil {
		h.log.Error().Err(err).Int("reports", len(req.Reports)).Msg("Failed to enqueue violation reports")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrIngestUnavailable)
		return
	}
	metrics.ViolationsIngested.WithLabelValues("queued").Add(float64(len(req.Reports)))
	response.Success(c, http.StatusAccepted, gin.H{"queued": len(req.Reports)})
}

// recordInline applies reports in order under the caller's identity. Reports
// the engine refuses are counted and skipped, like the worker drops them.
func (h *IngestHandler) recordInline(c *gin.Context, reports []model.ViolationReport) {
	actor := middleware.GetActor(c)
	recorded, rejected := 0, 0
	for _, r := range reports {
		_, err := h.sessionService.RecordViolation(c.Request.Context(), actor, r)
		switch {
		case err == nil:
			recorded++
		case errors.Is(err, service.ErrInvalidViolation), errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrForbidden):
			rejected++
		default:
			respondError(c, h.log, err)
			return
		}
	}
	metrics.ViolationsIngested.WithLabelValues("recorded").Add(float64(recorded))
	metrics.ViolationsIngested.WithLabelValues("dropped").Add(float64(rejected))
	response.Success(c, http.StatusOK, gin.H{"recorded": recorded, "rejected": rejected})
}
