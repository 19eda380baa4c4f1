package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

var (
	teacher = model.Actor{UserID: "t-ana", Role: model.RoleTeacher}
	other   = model.Actor{UserID: "t-budi", Role: model.RoleTeacher}
	proctor = model.Actor{UserID: "p-citra", Role: model.RoleProctor}
	alice   = model.Actor{UserID: "s-alice", Role: model.RoleStudent}
)

func intPtr(v int) *int { return &v }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

type server struct {
	t      *testing.T
	clk    *clock.Fake
	engine *gin.Engine
	auth   *service.AuthService
	store  *memstore.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()
	log := zerolog.Nop()

	cfg := &config.Config{
		GinMode:   gin.TestMode,
		JWTSecret: "handler-test-secret",
		JWTExpiry: time.Hour,
		Policy:    config.DefaultPolicy(),
	}

	clk := clock.NewFake(t0)
	store := memstore.New(clk)
	bank := memstore.NewBank(
		model.BankQuestion{
			ID:            "q-mcq",
			QuestionText:  "d/dx x^2 = ?",
			QuestionType:  "mcq",
			Options:       json.RawMessage(`["x", "2x", "3x"]`),
			CorrectAnswer: func() *string { s := "2x"; return &s }(),
			Marks:         intPtr(2),
		},
		model.BankQuestion{ID: "q-essay", QuestionText: "Explain a limit.", QuestionType: "essay", Marks: intPtr(10)},
	)
	publisher := monitor.NewPublisher(nil, log)
	rules := cache.NewRulesCache(nil, time.Minute, store.GetRules, log)

	attempts := service.NewAttemptService(store, bank, clk, publisher, log)
	exams := service.NewExamService(store, bank, rules, cfg.Policy.DefaultRules(), clk, log)
	sessions := service.NewSessionService(store, rules, attempts, clk, publisher, cfg.Policy.ReconnectWindow(), log)
	auth := service.NewAuthService(cfg)

	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(exams, attempts, log),
		Session:       handler.NewSessionHandler(sessions, log),
		Exam:          handler.NewExamHandler(exams, attempts, log),
		Ingest:        handler.NewIngestHandler(nil, sessions, log),
		WS:            handler.NewWSHandler(sessions, attempts, publisher, log, nil),
		Monitor:       handler.NewMonitorHandler(service.NewMonitorService(store, clk), publisher, log),
		System:        handler.NewSystemHandler(nil, nil, nil, log),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &server{
		t:      t,
		clk:    clk,
		engine: router.SetupRouter(ctx, auth, handlers, cfg, log),
		auth:   auth,
		store:  store,
	}
}

func (s *server) token(actor model.Actor) string {
	s.t.Helper()
	tok, err := s.auth.IssueToken(actor, time.Now())
	require.NoError(s.t, err)
	return tok
}

func (s *server) do(method, path string, actor *model.Actor, body any) (int, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(*actor))
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// publishedExam creates and publishes an exam whose window opens at t0.
func (s *server) publishedExam() uuid.UUID {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/v1/teacher/exams", &teacher, gin.H{
		"title":            "Calculus midterm",
		"duration_minutes": 60,
		"question_ids":     []string{"q-mcq", "q-essay"},
		"start_time":       t0,
		"end_time":         t0.Add(2 * time.Hour),
	})
	require.Equal(s.t, http.StatusCreated, code, errCode(env))
	created := decode[struct{ Exam model.Exam }](s.t, env.Data)

	code, env = s.do(http.MethodPost, "/api/v1/teacher/exams/"+created.Exam.ID.String()+"/publish", &teacher, nil)
	require.Equal(s.t, http.StatusOK, code, errCode(env))
	return created.Exam.ID
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	code, env := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestAuthAndRoles(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodGet, "/api/v1/student/exams", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "TOKEN_REQUIRED", errCode(env))

	code, env = s.do(http.MethodGet, "/api/v1/student/exams", &teacher, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ROLE_NOT_ALLOWED", errCode(env))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/student/exams", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_INVALID")
}

func TestCreateExamValidation(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodPost, "/api/v1/teacher/exams", &teacher, gin.H{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(env))
	assert.Contains(t, env.Error.Fields, "title")

	code, env = s.do(http.MethodPost, "/api/v1/teacher/exams", &teacher, gin.H{
		"title":            "Half window",
		"duration_minutes": 30,
		"question_ids":     []string{"q-mcq"},
		"start_time":       t0,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_WINDOW", errCode(env))
}

func TestAttemptAndGradingOverHTTP(t *testing.T) {
	s := newServer(t)
	examID := s.publishedExam()
	base := "/api/v1/student/exams/" + examID.String()

	code, env := s.do(http.MethodGet, "/api/v1/student/exams", &alice, nil)
	require.Equal(t, http.StatusOK, code)
	listed := decode[struct{ Exams []model.AvailableExam }](t, env.Data)
	require.Len(t, listed.Exams, 1)
	assert.Equal(t, model.ExamStatusActive, listed.Exams[0].EffectiveStatus)

	code, env = s.do(http.MethodPost, base+"/attempt", &alice, nil)
	require.Equal(t, http.StatusOK, code, errCode(env))
	view := decode[model.AttemptView](t, env.Data)
	require.Len(t, view.Questions, 2)
	assert.Equal(t, 3600, view.RemainingSeconds)
	attemptPath := "/api/v1/student/attempts/" + view.Attempt.ID.String()

	code, env = s.do(http.MethodPut, attemptPath+"/answers", &alice, gin.H{"question_id": "q-mcq", "answer": "2x"})
	require.Equal(t, http.StatusOK, code, errCode(env))

	code, env = s.do(http.MethodPut, attemptPath+"/answers", &alice, gin.H{"question_id": "q-nope", "answer": "?"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "UNKNOWN_QUESTION", errCode(env))

	s.clk.Advance(10 * time.Minute)
	code, env = s.do(http.MethodGet, base+"/attempt", &alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3000, decode[model.AttemptView](t, env.Data).RemainingSeconds)

	code, env = s.do(http.MethodPost, attemptPath+"/submit", &alice, nil)
	require.Equal(t, http.StatusOK, code, errCode(env))

	code, env = s.do(http.MethodPut, attemptPath+"/answers", &alice, gin.H{"question_id": "q-mcq", "answer": "x"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ATTEMPT_NOT_EDITABLE", errCode(env))

	gradePath := fmt.Sprintf("/api/v1/teacher/exams/%s/attempts/%s", examID, view.Attempt.ID)

	code, env = s.do(http.MethodGet, gradePath+"/review", &other, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_EXAM_OWNER", errCode(env))

	code, env = s.do(http.MethodGet, gradePath+"/review", &teacher, nil)
	require.Equal(t, http.StatusOK, code)
	review := decode[model.AttemptReview](t, env.Data)
	assert.Equal(t, model.AttemptStatusPartiallyEvaluated, review.Status)
	assert.Equal(t, 2, review.AutoScoreTotal)

	patch := gin.H{
		"expected_grading_version": 0,
		"question_scores":          []gin.H{{"question_id": "q-essay", "manual_score": 8}},
	}
	code, env = s.do(http.MethodPatch, gradePath+"/grades", &teacher, patch)
	require.Equal(t, http.StatusOK, code, errCode(env))
	graded := decode[struct{ Attempt model.ExamAttempt }](t, env.Data)
	assert.Equal(t, 10, graded.Attempt.Score)
	assert.Equal(t, model.AttemptStatusEvaluated, graded.Attempt.Status)
	assert.Equal(t, 1, graded.Attempt.GradingVersion)

	code, env = s.do(http.MethodPatch, gradePath+"/grades", &teacher, patch)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "VERSION_CONFLICT", errCode(env))

	code, env = s.do(http.MethodPatch, gradePath+"/grades", &teacher, gin.H{
		"expected_grading_version": 1,
		"question_scores":          []gin.H{{"question_id": "q-essay", "manual_score": 11}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INVALID_SCORE", errCode(env))
}

func TestAttemptPathErrors(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodPost, "/api/v1/student/exams/not-a-uuid/attempt", &alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ID", errCode(env))

	code, env = s.do(http.MethodPost, "/api/v1/student/exams/"+uuid.NewString()+"/attempt", &alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errCode(env))

	examID := s.publishedExam()
	s.clk.Set(t0.Add(3 * time.Hour))
	code, env = s.do(http.MethodPost, "/api/v1/student/exams/"+examID.String()+"/attempt", &alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "EXAM_NOT_AVAILABLE", errCode(env))
}

func TestSessionThresholdOverHTTP(t *testing.T) {
	s := newServer(t)
	examID := s.publishedExam()

	code, env := s.do(http.MethodPut, "/api/v1/teacher/exams/"+examID.String()+"/rules", &teacher, gin.H{
		"violation_threshold_severe": 2,
	})
	require.Equal(t, http.StatusOK, code, errCode(env))

	code, env = s.do(http.MethodPost, "/api/v1/student/exams/"+examID.String()+"/sessions", &alice, nil)
	require.Equal(t, http.StatusOK, code, errCode(env))
	sess := decode[struct{ Session model.ExamSession }](t, env.Data).Session
	sessionPath := "/api/v1/student/sessions/" + sess.ID.String()

	code, env = s.do(http.MethodPost, sessionPath+"/violations", &alice, gin.H{"type": "tab_switch", "severity": "loud"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(env))
	assert.Contains(t, env.Error.Fields, "severity")

	code, env = s.do(http.MethodPost, sessionPath+"/violations", &alice, gin.H{"type": "phone_detected", "severity": "severe"})
	require.Equal(t, http.StatusCreated, code, errCode(env))
	assert.False(t, decode[service.ViolationResult](t, env.Data).Terminated)

	code, env = s.do(http.MethodPost, "/api/v1/ingest/violations", &proctor, gin.H{
		"reports": []gin.H{{"session_id": sess.ID, "type": "second_person", "severity": "severe"}},
	})
	require.Equal(t, http.StatusOK, code, errCode(env))
	assert.JSONEq(t, `{"recorded":1,"rejected":0}`, string(env.Data))

	code, env = s.do(http.MethodPost, sessionPath+"/heartbeat", &alice, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SESSION_ENDED", errCode(env))

	code, env = s.do(http.MethodGet, "/api/v1/teacher/sessions/"+sess.ID.String()+"/violations", &teacher, nil)
	require.Equal(t, http.StatusOK, code)
	listed := decode[struct{ Violations []model.Violation }](t, env.Data)
	require.Len(t, listed.Violations, 2)
}

func TestIngestRejectsAmbiguousTarget(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodPost, "/api/v1/ingest/violations", &proctor, gin.H{
		"reports": []gin.H{{"type": "gaze", "severity": "minor"}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_VIOLATION", errCode(env))

	code, env = s.do(http.MethodPost, "/api/v1/ingest/violations", &alice, gin.H{
		"reports": []gin.H{{"session_id": uuid.New(), "type": "gaze", "severity": "minor"}},
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ROLE_NOT_ALLOWED", errCode(env))
}

func TestResumeAfterWindowIsGone(t *testing.T) {
	s := newServer(t)
	examID := s.publishedExam()

	code, env := s.do(http.MethodPost, "/api/v1/student/exams/"+examID.String()+"/sessions", &alice, nil)
	require.Equal(t, http.StatusOK, code, errCode(env))
	sess := decode[struct{ Session model.ExamSession }](t, env.Data).Session

	s.clk.Advance(10 * time.Minute)
	code, env = s.do(http.MethodPost, "/api/v1/student/sessions/"+sess.ID.String()+"/resume", &alice, nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "RECONNECT_WINDOW_EXPIRED", errCode(env))
}

func TestMonitorNeedsBroker(t *testing.T) {
	s := newServer(t)
	examID := s.publishedExam()

	code, env := s.do(http.MethodGet, "/api/v1/teacher/exams/"+examID.String()+"/monitor", &other, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_EXAM_OWNER", errCode(env))

	code, env = s.do(http.MethodGet, "/api/v1/teacher/exams/"+examID.String()+"/monitor", &teacher, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "MONITOR_UNAVAILABLE", errCode(env))
}

func TestSessionStreamWebSocket(t *testing.T) {
	s := newServer(t)
	examID := s.publishedExam()

	code, env := s.do(http.MethodPost, "/api/v1/student/exams/"+examID.String()+"/attempt", &alice, nil)
	require.Equal(t, http.StatusOK, code, errCode(env))
	code, env = s.do(http.MethodPost, "/api/v1/student/exams/"+examID.String()+"/sessions", &alice, nil)
	require.Equal(t, http.StatusOK, code, errCode(env))
	sess := decode[struct{ Session model.ExamSession }](t, env.Data).Session
	require.NotNil(t, sess.AttemptID)

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/v1/student/sessions/" + sess.ID.String() + "/stream?token=" + s.token(alice)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	type frame struct {
		Event string          `json:"event"`
		Ref   string          `json:"ref"`
		Code  string          `json:"code"`
		Data  json.RawMessage `json:"data"`
	}
	roundTrip := func(msg any) frame {
		t.Helper()
		require.NoError(t, conn.WriteJSON(msg))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	f := roundTrip(gin.H{"action": "ping", "ref": "1"})
	assert.Equal(t, "pong", f.Event)
	assert.Equal(t, "1", f.Ref)

	f = roundTrip(gin.H{"action": "save_answer", "ref": "2", "question_id": "q-mcq", "answer": "2x"})
	assert.Equal(t, "saved", f.Event, f.Code)

	f = roundTrip(gin.H{"action": "save_answer", "ref": "3", "question_id": "q-nope", "answer": "2x"})
	assert.Equal(t, "error", f.Event)
	assert.Equal(t, "UNKNOWN_QUESTION", f.Code)

	f = roundTrip(gin.H{"action": "violation", "ref": "4", "type": "tab_switch", "severity": "minor"})
	assert.Equal(t, "violation_recorded", f.Event, f.Code)

	f = roundTrip(gin.H{"action": "dance", "ref": "5"})
	assert.Equal(t, "error", f.Event)

	f = roundTrip(gin.H{"action": "submit", "ref": "6"})
	require.Equal(t, "submitted", f.Event, f.Code)
	submitted := decode[model.ExamAttempt](t, f.Data)
	assert.Equal(t, model.AttemptStatusPartiallyEvaluated, submitted.Status)
	assert.Equal(t, model.SubmitReasonStudent, submitted.SubmitReason)
}
