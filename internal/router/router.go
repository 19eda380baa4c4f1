package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Session       *handler.SessionHandler
	Exam          *handler.ExamHandler
	Ingest        *handler.IngestHandler
	WS            *handler.WSHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the rate limiter's background eviction.
func SetupRouter(
	ctx context.Context,
	auth middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the logger and every envelope carry it.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics())
	router.Use(middleware.Brotli(cfg.BrotliQuality,
		"/metrics",
		"/ws/v1/student/sessions/:session_id/stream",
		"/api/v1/teacher/exams/:exam_id/monitor",
		"/api/v1/admin/system/metrics",
	))

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := func(*gin.RouterGroup) {}
	if cfg.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute, time.Minute)
		limited = func(g *gin.RouterGroup) { g.Use(limiter.Middleware()) }
	}

	// ─── 1. Ingest Group (AI and proctor pipeline) ─────────────────────
	ingest := router.Group("/api/v1/ingest")
	ingest.Use(middleware.RequireJWT(auth), middleware.RequireRole(model.RoleProctor, model.RoleAdmin))
	limited(ingest)
	{
		ingest.POST("/violations", handlers.Ingest.IngestViolations)
	}

	// ─── 2. Student Group ──────────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireJWT(auth), middleware.RequireRole(model.RoleStudent))
	limited(studentAPI)
	{
		studentAPI.GET("/exams", handlers.StudentPortal.ListExams)
		studentAPI.POST("/exams/:exam_id/attempt", handlers.StudentPortal.StartAttempt)
		studentAPI.GET("/exams/:exam_id/attempt", handlers.StudentPortal.ResumeAttempt)
		studentAPI.PUT("/attempts/:attempt_id/answers", handlers.StudentPortal.SaveAnswer)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.StudentPortal.SubmitAttempt)

		studentAPI.POST("/exams/:exam_id/sessions", handlers.Session.StartSession)
		studentAPI.POST("/sessions/:session_id/heartbeat", handlers.Session.Heartbeat)
		studentAPI.POST("/sessions/:session_id/resume", handlers.Session.ResumeSession)
		studentAPI.POST("/sessions/:session_id/end", handlers.Session.EndSession)
		studentAPI.POST("/sessions/:session_id/violations", handlers.Session.ReportViolation)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(auth), middleware.RequireRole(model.RoleStudent))
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Teacher Group ──────────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireJWT(auth), middleware.RequireRole(model.RoleTeacher, model.RoleAdmin))
	{
		teacherAPI.POST("/exams", handlers.Exam.CreateExam)
		teacherAPI.POST("/exams/:exam_id/publish", handlers.Exam.PublishExam)
		teacherAPI.PUT("/exams/:exam_id/rules", handlers.Exam.ConfigureRules)
		teacherAPI.POST("/exams/:exam_id/enrollments", handlers.Exam.EnrollStudents)
		teacherAPI.POST("/exams/:exam_id/end", handlers.Exam.EndExam)
		teacherAPI.GET("/exams/:exam_id/attempts/:attempt_id/review", handlers.Exam.ReviewAttempt)
		teacherAPI.PATCH("/exams/:exam_id/attempts/:attempt_id/grades", handlers.Exam.ApplyGrades)
		teacherAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)

		teacherAPI.GET("/sessions/:session_id/violations", handlers.Session.ListViolations)
		teacherAPI.POST("/sessions/:session_id/end", handlers.Session.EndSession)
	}

	// ─── 5. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireJWT(auth), middleware.RequireRole(model.RoleAdmin))
	{
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
