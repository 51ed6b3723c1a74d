package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T, fn func()) Entry {
	t.Helper()
	var buf bytes.Buffer
	prevFlags := log.Flags()
	prevOut := log.Writer()
	log.SetFlags(0)
	log.SetOutput(&buf)
	defer func() {
		log.SetFlags(prevFlags)
		log.SetOutput(prevOut)
	}()

	fn()

	line := strings.TrimSpace(buf.String())
	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestLoggerEmitsStructuredJSON(t *testing.T) {
	l := New("registry")
	entry := captureLog(t, func() {
		l.Infof("backend-a", "req-1", "backend registered", map[string]any{"priority": 3})
	})

	assert.Equal(t, Info, entry.Level)
	assert.Equal(t, "registry", entry.Component)
	assert.Equal(t, "backend-a", entry.BackendID)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "backend registered", entry.Message)
	assert.Equal(t, float64(3), entry.Fields["priority"])
}

func TestWithBackendSetsDefault(t *testing.T) {
	l := New("health").WithBackend("backend-b")
	entry := captureLog(t, func() {
		l.Warnf("", "", "probe failed", nil)
	})
	assert.Equal(t, "backend-b", entry.BackendID)
}

func TestErrorfAttachesErrorField(t *testing.T) {
	l := New("gateway")
	entry := captureLog(t, func() {
		l.Errorf("backend-c", "", "upstream failed", assertErr{"boom"}, nil)
	})
	assert.Equal(t, "boom", entry.Fields["error"])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
