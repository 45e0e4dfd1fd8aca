package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tt := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{raw: "", want: zerolog.InfoLevel},
		{raw: "debug", want: zerolog.DebugLevel, ok: true},
		{raw: " WARN ", want: zerolog.WarnLevel, ok: true},
		{raw: "off", want: zerolog.Disabled, ok: true},
		{raw: "loud", want: zerolog.InfoLevel},
	}
	for _, tc := range tt {
		got, ok := parseLevel(tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "console")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "yes")

	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnvOverrides(&cfg)

	assert.Equal(t, zerolog.ErrorLevel, cfg.Level)
	assert.Equal(t, FormatConsole, cfg.Format)
	assert.False(t, cfg.Timestamp)
	// "yes" is not a strconv bool, so the default stays.
	assert.False(t, cfg.NoColor)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, Format: FormatJSON}, &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("terminal", "628076842334").Msg("session opened")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "628076842334", line["terminal"])
	assert.Equal(t, "session opened", line["message"])
	assert.NotContains(t, line, "time")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DefaultConfig(ProfileTest), &buf)
	logger.Debug().Uint16("serial", 7).Msg("frame")

	assert.Contains(t, buf.String(), "frame")
	assert.Contains(t, buf.String(), "serial=7")
}
