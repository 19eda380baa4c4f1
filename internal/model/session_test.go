package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionTouchAndResume(t *testing.T) {
	s := &ExamSession{Status: SessionStatusCreated}
	assert.False(t, s.CanResume(base))

	s.Touch(base, 2*time.Minute)
	assert.Equal(t, SessionStatusLive, s.Status)
	assert.True(t, s.CanResume(base.Add(2*time.Minute)))
	assert.False(t, s.CanResume(base.Add(2*time.Minute+time.Second)))

	reason := TerminationSevereViolation
	s.End(base, "system", &reason, true)
	assert.False(t, s.CanResume(base))

	s.End(base.Add(time.Hour), "t-1", nil, false)
	assert.Equal(t, "system", *s.TerminatedBy)
	assert.True(t, s.AutoTerminated)
}
