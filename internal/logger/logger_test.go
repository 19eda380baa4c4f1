package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "json").With().Str("component", "deadline_sweep").Logger()

	log.Info().Str("attempt_id", "a1").Msg("auto-submitted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "deadline_sweep", line["component"])
	assert.Equal(t, "a1", line["attempt_id"])
	assert.Equal(t, "auto-submitted", line["message"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	_ = New(&buf, "chatty", "json")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
