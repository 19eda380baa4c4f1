package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewFake(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(30*time.Second), c.Advance(30*time.Second))
	assert.Equal(t, start.Add(30*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSystemIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}
