package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"0", LevelFatal, false},
		{"2", LevelWarn, false},
		{"5", LevelTrace, false},
		{"debug", LevelDebug, false},
		{"WARNING", LevelWarn, false},
		{" info ", LevelInfo, false},
		{"6", 0, true},
		{"-1", 0, true},
		{"loud", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThreshold(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel(LevelInfo)
	t.Cleanup(func() {
		SetOutput(os.Stderr, "text")
		SetLevel(DefaultLevel)
	})

	Debug("hidden %d", 1)
	Info("shown %d", 2)
	Fatal("fatal does not exit")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown 2", rec["message"])
	assert.Equal(t, "INFO", rec["severity"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "FATAL", rec["severity"])
}

func TestSetLevelClamps(t *testing.T) {
	t.Cleanup(func() { SetLevel(DefaultLevel) })

	SetLevel(42)
	assert.Equal(t, LevelTrace, threshold())
	SetLevel(-3)
	assert.Equal(t, LevelFatal, threshold())
	assert.True(t, Enabled(LevelFatal))
	assert.False(t, Enabled(LevelError))
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gopherd.log")
	With("role", "test")
	require.NoError(t, Configure(Config{Level: LevelDebug, Format: "json", Output: path}))
	t.Cleanup(func() {
		mu.Lock()
		fields = nil
		mu.Unlock()
		_ = Configure(Config{Level: DefaultLevel, Output: "stderr"})
	})

	Debug("written to %s", "file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"role":"test"`)
	assert.Contains(t, string(data), "written to file")
}

func TestConsoleShowsSeverityOnce(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "text")
	SetLevel(LevelInfo)
	t.Cleanup(func() {
		SetOutput(os.Stderr, "text")
		SetLevel(DefaultLevel)
	})

	Warn("disk %s", "full")
	Fatal("gone")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], " WARN disk full")
	assert.NotContains(t, lines[0], "severity")
	assert.NotContains(t, lines[0], "WRN")
	assert.Contains(t, lines[1], " FATAL gone")
}

func TestFieldsSurviveOutputChange(t *testing.T) {
	var first, second bytes.Buffer
	SetOutput(&first, "json")
	SetLevel(LevelInfo)
	t.Cleanup(func() {
		mu.Lock()
		fields = nil
		mu.Unlock()
		SetOutput(os.Stderr, "text")
		SetLevel(DefaultLevel)
	})

	With("role", "cli")
	With("role", "supervisor")
	With("worker_id", "w1")
	SetOutput(&second, "json")
	Info("moved")

	assert.Empty(t, first.String())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(second.Bytes(), &rec))
	assert.Equal(t, "supervisor", rec["role"])
	assert.Equal(t, "w1", rec["worker_id"])
	assert.Equal(t, "INFO", rec["severity"])
}
