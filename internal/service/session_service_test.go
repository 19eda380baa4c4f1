package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
)

// sessionWithAttempt starts an attempt and a session for alice on a fresh
// exam with default rules configured.
func sessionWithAttempt(t *testing.T, f *fixture) (*model.Exam, *model.AttemptView, *model.ExamSession) {
	t.Helper()
	exam := f.activeExam(t)
	_, err := f.exams.ConfigureRules(f.ctx, teacher, exam.ID, model.ConfigureRulesRequest{})
	require.NoError(t, err)

	view, err := f.attempts.Start(f.ctx, exam.ID, alice)
	require.NoError(t, err)
	sess, err := f.sessions.Start(f.ctx, exam.ID, alice)
	require.NoError(t, err)
	return exam, view, sess
}

func report(sessionID uuid.UUID, sev model.Severity, count int) model.ViolationReport {
	return model.ViolationReport{SessionID: &sessionID, Type: "face_not_visible", Severity: sev, Count: count}
}

func TestSessionStart_IsIdempotentAndLinksAttempt(t *testing.T) {
	f := newFixture(t)
	_, view, sess := sessionWithAttempt(t, f)

	assert.Equal(t, model.SessionStatusLive, sess.Status)
	require.NotNil(t, sess.AttemptID)
	assert.Equal(t, view.Attempt.ID, *sess.AttemptID)
	assert.Equal(t, t0.Add(120*time.Second), *sess.ReconnectAllowedUntil)

	f.clk.Advance(time.Minute)
	again, err := f.sessions.Start(f.ctx, sess.ExamID, alice)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, 1, f.countEvents(monitor.EventSessionStarted))
}

func TestSessionStart_LinksAttemptStartedLater(t *testing.T) {
	f := newFixture(t)
	exam := f.activeExam(t)

	sess, err := f.sessions.Start(f.ctx, exam.ID, alice)
	require.NoError(t, err)
	assert.Nil(t, sess.AttemptID)

	view, err := f.attempts.Start(f.ctx, exam.ID, alice)
	require.NoError(t, err)

	sess, err = f.sessions.Heartbeat(f.ctx, sess.ID, alice)
	require.NoError(t, err)
	require.NotNil(t, sess.AttemptID)
	assert.Equal(t, view.Attempt.ID, *sess.AttemptID)
}

func TestSessionStart_RequiresActiveExam(t *testing.T) {
	f := newFixture(t)
	exam := f.activeExam(t)
	f.clk.Set(*exam.EndTime)

	_, err := f.sessions.Start(f.ctx, exam.ID, alice)
	assert.ErrorIs(t, err, ErrExamNotActive)
}

func TestSessionResume(t *testing.T) {
	f := newFixture(t)
	_, _, sess := sessionWithAttempt(t, f)

	f.clk.Advance(100 * time.Second)
	_, err := f.sessions.Heartbeat(f.ctx, sess.ID, alice)
	require.NoError(t, err)

	// The heartbeat slid the window; 200s after start is still inside it.
	f.clk.Advance(100 * time.Second)
	resumed, err := f.sessions.Resume(f.ctx, sess.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.ReconnectAttempts)
	assert.Equal(t, f.clk.Now(), *resumed.ResumedAt)

	f.clk.Advance(121 * time.Second)
	_, err = f.sessions.Resume(f.ctx, sess.ID, alice)
	assert.ErrorIs(t, err, ErrReconnectExpired)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.sessions.Resume(f.ctx, sess.ID, bob)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSessionHeartbeat_CannotReopenLapsedWindow(t *testing.T) {
	f := newFixture(t)
	_, _, sess := sessionWithAttempt(t, f)

	f.clk.Advance(10 * time.Minute)
	_, err := f.sessions.Resume(f.ctx, sess.ID, alice)
	require.ErrorIs(t, err, ErrReconnectExpired)

	_, err = f.sessions.Heartbeat(f.ctx, sess.ID, alice)
	assert.ErrorIs(t, err, ErrReconnectExpired)
	_, err = f.sessions.Start(f.ctx, sess.ExamID, alice)
	assert.ErrorIs(t, err, ErrReconnectExpired)

	_, err = f.sessions.Resume(f.ctx, sess.ID, alice)
	assert.ErrorIs(t, err, ErrReconnectExpired)

	stored, err := f.store.GetSession(f.ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ReconnectAttempts)
	assert.Equal(t, t0.Add(120*time.Second), *stored.ReconnectAllowedUntil)
}

func TestSessionEnd_NeverSubmitsAttempt(t *testing.T) {
	f := newFixture(t)
	_, view, sess := sessionWithAttempt(t, f)

	_, err := f.sessions.End(f.ctx, sess.ID, otherTeacher)
	assert.ErrorIs(t, err, ErrForbidden)

	ended, err := f.sessions.End(f.ctx, sess.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusEnded, ended.Status)
	assert.False(t, ended.AutoTerminated)

	attempt, err := f.store.GetAttempt(f.ctx, view.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, attempt.Status)

	_, err = f.sessions.Heartbeat(f.ctx, sess.ID, alice)
	assert.ErrorIs(t, err, ErrSessionEnded)
	_, err = f.sessions.Resume(f.ctx, sess.ID, alice)
	assert.ErrorIs(t, err, ErrSessionEnded)

	// A fresh session may be opened once the old one is over.
	next, err := f.sessions.Start(f.ctx, sess.ExamID, alice)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, next.ID)
}

func TestRecordViolation_SevereThresholdTerminatesAndFlags(t *testing.T) {
	f := newFixture(t)
	_, view, sess := sessionWithAttempt(t, f)

	for i := range 2 {
		res, err := f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeveritySevere, 1))
		require.NoError(t, err)
		assert.False(t, res.Terminated, "violation %d", i+1)
	}

	res, err := f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeveritySevere, 1))
	require.NoError(t, err)
	assert.True(t, res.Terminated)
	assert.Equal(t, model.TerminationSevereViolation, res.Reason)
	assert.Equal(t, 3, res.Counts.Severe)
	assert.Equal(t, model.SessionStatusEnded, res.Session.Status)
	assert.True(t, res.Session.AutoTerminated)
	assert.Equal(t, "system", *res.Session.TerminatedBy)

	attempt, err := f.store.GetAttempt(f.ctx, view.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, attempt.Status)
	assert.True(t, attempt.IsFlagged)
	assert.Equal(t, model.TerminationSevereViolation, *attempt.FlagReason)
	assert.Equal(t, 3, attempt.ViolationCount)

	// Later reports are still recorded against the ended session.
	res, err = f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeverityMajor, 1))
	require.NoError(t, err)
	assert.False(t, res.Terminated)
	assert.Equal(t, 1, f.countEvents(monitor.EventSessionTerminated))

	list, err := f.sessions.ListViolations(f.ctx, sess.ID, teacher)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestRecordViolation_MajorThresholdUsesCounts(t *testing.T) {
	f := newFixture(t)
	_, _, sess := sessionWithAttempt(t, f)

	res, err := f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeverityMajor, 4))
	require.NoError(t, err)
	assert.False(t, res.Terminated)

	res, err = f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeverityMajor, 1))
	require.NoError(t, err)
	assert.True(t, res.Terminated)
	assert.Equal(t, model.TerminationMajorViolation, res.Reason)
}

func TestRecordViolation_MinorNeverTerminates(t *testing.T) {
	f := newFixture(t)
	_, _, sess := sessionWithAttempt(t, f)

	res, err := f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeverityMinor, 50))
	require.NoError(t, err)
	assert.False(t, res.Terminated)
	assert.Equal(t, 50, res.Counts.Minor)
	assert.Equal(t, model.SessionStatusLive, res.Session.Status)
}

func TestRecordViolation_WithoutRulesRecordsOnly(t *testing.T) {
	f := newFixture(t)
	exam := f.activeExam(t)
	sess, err := f.sessions.Start(f.ctx, exam.ID, alice)
	require.NoError(t, err)

	res, err := f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeveritySevere, 10))
	require.NoError(t, err)
	assert.False(t, res.Terminated)
	assert.Equal(t, 10, res.Counts.Severe)
}

func TestRecordViolation_AttemptReportRoutesToOpenSession(t *testing.T) {
	f := newFixture(t)
	_, view, sess := sessionWithAttempt(t, f)

	attemptID := view.Attempt.ID
	res, err := f.sessions.RecordViolation(f.ctx, alice, model.ViolationReport{
		AttemptID: &attemptID,
		Type:      "tab_switch",
		Severity:  model.SeverityMinor,
		Source:    model.SourceAI,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Violation.SessionID)
	assert.Equal(t, sess.ID, *res.Violation.SessionID)
	assert.Equal(t, model.SourceClient, res.Violation.Source)
	assert.Equal(t, 1, res.Violation.Count)
}

func TestRecordViolation_AttemptOnly(t *testing.T) {
	f := newFixture(t)
	exam := f.activeExam(t)
	view, err := f.attempts.Start(f.ctx, exam.ID, alice)
	require.NoError(t, err)

	attemptID := view.Attempt.ID
	res, err := f.sessions.RecordViolation(f.ctx, IngestActor, model.ViolationReport{
		AttemptID: &attemptID,
		Type:      "multiple_faces",
		Severity:  model.SeverityMajor,
		Count:     2,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.Nil(t, res.Violation.SessionID)
	assert.Equal(t, model.SourceAI, res.Violation.Source)

	attempt, err := f.store.GetAttempt(f.ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, 2, attempt.ViolationCount)
	assert.False(t, attempt.IsFlagged)
}

func TestRecordViolation_Rejects(t *testing.T) {
	f := newFixture(t)
	_, view, sess := sessionWithAttempt(t, f)
	attemptID := view.Attempt.ID

	both := report(sess.ID, model.SeverityMinor, 1)
	both.AttemptID = &attemptID
	_, err := f.sessions.RecordViolation(f.ctx, proctor, both)
	assert.ErrorIs(t, err, ErrInvalidViolation)

	_, err = f.sessions.RecordViolation(f.ctx, proctor, model.ViolationReport{Type: "x", Severity: model.SeverityMinor})
	assert.ErrorIs(t, err, ErrInvalidViolation)

	_, err = f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, "critical", 1))
	assert.ErrorIs(t, err, ErrInvalidViolation)

	mismatched := report(sess.ID, model.SeverityMinor, 1)
	mismatched.StudentID = bob.UserID
	_, err = f.sessions.RecordViolation(f.ctx, proctor, mismatched)
	assert.ErrorIs(t, err, ErrInvalidViolation)

	_, err = f.sessions.RecordViolation(f.ctx, bob, report(sess.ID, model.SeverityMinor, 1))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.sessions.RecordViolation(f.ctx, otherTeacher, report(sess.ID, model.SeverityMinor, 1))
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.sessions.RecordViolation(f.ctx, proctor, report(uuid.New(), model.SeverityMinor, 1))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.sessions.ListViolations(f.ctx, sess.ID, otherTeacher)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestRecordViolation_RulesChangeTakesEffect(t *testing.T) {
	f := newFixture(t)
	exam, _, sess := sessionWithAttempt(t, f)

	_, err := f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeveritySevere, 1))
	require.NoError(t, err)

	_, err = f.exams.ConfigureRules(f.ctx, teacher, exam.ID, model.ConfigureRulesRequest{ViolationThresholdSevere: ptr(2)})
	require.NoError(t, err)

	res, err := f.sessions.RecordViolation(f.ctx, proctor, report(sess.ID, model.SeveritySevere, 1))
	require.NoError(t, err)
	assert.True(t, res.Terminated)
}
