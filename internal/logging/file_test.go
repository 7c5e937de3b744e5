package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFileLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	log, closer := NewFileLogger(FileOptions{Path: path, MaxSizeMB: 1, Level: slog.LevelInfo})
	log.With("module", "sync").Info(context.Background(), "drain finished", "succeeded", 2)
	log.Debug(context.Background(), "hidden")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	require.True(t, strings.Contains(out, `"msg":"drain finished"`), out)
	require.True(t, strings.Contains(out, `"module":"sync"`), out)
	require.True(t, strings.Contains(out, `"succeeded":2`), out)
	require.False(t, strings.Contains(out, "hidden"), out)
}

func TestNop_DoesNotPanic(t *testing.T) {
	var l Logger = Nop{}
	l = l.With("a", 1)
	l.Debug(context.TODO(), "x")
	l.Info(context.TODO(), "x")
	l.Warn(context.TODO(), "x")
	l.Error(context.TODO(), "x")
}
