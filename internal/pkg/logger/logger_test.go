package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLine(t *testing.T, l *Logger, fn func(*Logger)) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	l.out = &buf
	fn(l)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLog_RedactsIdentifierKeys(t *testing.T) {
	l := &Logger{level: DEBUG, redactPII: true}
	entry := captureLine(t, l, func(l *Logger) {
		l.Info("admitted", "email", "john.doe@example.com", "phone", "15551234567", "ip", "203.0.113.9", "channel", "c1")
	})

	assert.Equal(t, "admitted", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "***67", entry["phone"])
	assert.Equal(t, "***.9", entry["ip"])
	assert.Equal(t, "c1", entry["channel"])
}

func TestLog_MasksEmbeddedEmails(t *testing.T) {
	l := &Logger{level: DEBUG, redactPII: true}
	entry := captureLine(t, l, func(l *Logger) {
		l.Warn("bad payload", "detail", "rejected alice@example.org twice")
	})
	assert.Equal(t, "rejected al***@example.org twice", entry["detail"])
}

func TestLog_BelowLevelIsDropped(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{level: WARN, out: &buf}
	l.Info("quiet")
	assert.Zero(t, buf.Len())
}

func TestWith_PrependsFields(t *testing.T) {
	l := &Logger{level: DEBUG}
	child := l.With("component", "dispatch")
	entry := captureLine(t, child, func(l *Logger) {
		l.Error("chunk failed", "err", errors.New("boom"), "events", 12)
	})
	assert.Equal(t, "dispatch", entry["component"])
	assert.Equal(t, "boom", entry["err"])
	assert.EqualValues(t, 12, entry["events"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}
