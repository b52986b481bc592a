package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"Warn", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "info", "json")
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("session_started", KeySessionID, "abc", KeyClientIP, "127.0.0.1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session_started", entry["msg"])
	assert.Equal(t, "abc", entry[KeySessionID])
	assert.Equal(t, "127.0.0.1", entry[KeyClientIP])
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug", "text")
	require.NoError(t, err)

	l.Debug("command_received", KeyProcedure, "RETR")
	assert.Contains(t, buf.String(), "procedure=RETR")
}

func TestNewWithWriter_BadFormat(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftpd.log")
	l, closer, err := New(Config{Level: "info", Format: "text", Output: path})
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, closer.Close())
	assert.FileExists(t, path)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
