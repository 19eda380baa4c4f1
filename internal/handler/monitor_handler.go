package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const keepAliveInterval = 30 * time.Second

// ExamSubscriber opens a subscription to an exam's monitor channel. It
// returns nil when no broker is configured.
type ExamSubscriber interface {
	Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub
}

// MonitorHandler streams an exam's lifecycle events to its teacher over SSE.
type MonitorHandler struct {
	monitorService *service.MonitorService
	subscriber     ExamSubscriber
	log            zerolog.Logger
}

func NewMonitorHandler(monitorService *service.MonitorService, subscriber ExamSubscriber, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		subscriber:     subscriber,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/teacher/exams/:exam_id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	actor := middleware.GetActor(c)
	reqCtx := c.Request.Context()

	snapshot, err := h.monitorService.Snapshot(reqCtx, examID, actor)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	pubsub := h.subscriber.Subscribe(reqCtx, examID)
	if pubsub == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorUnavailable)
		return
	}
	defer pubsub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	writeSSE(c, map[string]any{"type": "snapshot", "data": snapshot})

	ch := pubsub.Channel()
	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Str("user_id", actor.UserID).Msg("Teacher attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			writeSSERaw(c, []byte(msg.Payload))

		case <-keepAliveTicker.C:
			writeSSERaw(c, pingPayload)
		}
	}
}

func writeSSE(c *gin.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeSSERaw(c, data)
}

func writeSSERaw(c *gin.Context, data []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
