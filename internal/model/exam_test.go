package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func windowed(status ExamStatus) *Exam {
	start, end := base, base.Add(2*time.Hour)
	return &Exam{Status: status, DurationMinutes: 90, StartTime: &start, EndTime: &end}
}

func TestEffectiveStatus(t *testing.T) {
	tests := []struct {
		name   string
		exam   *Exam
		at     time.Time
		expect ExamStatus
	}{
		{"scheduled before start", windowed(ExamStatusScheduled), base.Add(-time.Minute), ExamStatusScheduled},
		{"scheduled inside window", windowed(ExamStatusScheduled), base, ExamStatusActive},
		{"active before start", windowed(ExamStatusActive), base.Add(-time.Minute), ExamStatusActive},
		{"active at end", windowed(ExamStatusActive), base.Add(2 * time.Hour), ExamStatusEnded},
		{"ended is sticky", windowed(ExamStatusEnded), base, ExamStatusEnded},
		{"no window", &Exam{Status: ExamStatusActive}, base, ExamStatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.exam.EffectiveStatus(tt.at))
		})
	}
}

func TestAcceptingAttempts(t *testing.T) {
	active := windowed(ExamStatusActive)
	assert.False(t, active.AcceptingAttempts(base.Add(-time.Second)))
	assert.True(t, active.AcceptingAttempts(base))
	assert.False(t, active.AcceptingAttempts(base.Add(2*time.Hour)))
	assert.False(t, (&Exam{Status: ExamStatusActive}).AcceptingAttempts(base))
}

func TestAttemptDeadline(t *testing.T) {
	exam := windowed(ExamStatusActive)
	assert.Equal(t, base.Add(90*time.Minute), exam.AttemptDeadline(base))
	assert.Equal(t, base.Add(2*time.Hour), exam.AttemptDeadline(base.Add(time.Hour)))
}
