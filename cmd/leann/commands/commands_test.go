package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/leann-go/internal/logging"
)

// newQuietLogger returns a logger that discards everything below error.
func newQuietLogger() *slog.Logger {
	return logging.NewWithWriter(io.Discard, "error", "json")
}

// runCmd executes the root command with args and returns stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// useMemoryBackend points the commands at an in-memory store with history
// kept under a temporary data directory.
func useMemoryBackend(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LEANN_DATA_DIR", dataDir)
	t.Setenv("LEANN_HISTORY_DB", "")
	t.Setenv("LEANN_CONFIG", "")
	t.Setenv("LOG_LEVEL", "error")
	return dataDir
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	want := []string{"serve", "index", "search", "ask", "runs", "version"}
	for _, name := range want {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "leann ")
	assert.Contains(t, out, "commit")
}

func TestIndexCmd_MemoryBackend(t *testing.T) {
	useMemoryBackend(t)
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.txt"), []byte("one two three"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "skip.bin"), []byte("ignored"), 0o600))

	out, err := runCmd(t, "index", docs)
	require.NoError(t, err)

	var got struct {
		Dir    string `json:"dir"`
		Files  int    `json:"files"`
		Chunks int    `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, docs, got.Dir)
	assert.Equal(t, 1, got.Files)
	assert.Equal(t, 1, got.Chunks)

	// The pass is recorded in the history database.
	out, err = runCmd(t, "runs", "--limit", "5")
	require.NoError(t, err)
	var runs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, docs, runs[0]["dir"])
}

func TestIndexCmd_InvalidChunkConfig(t *testing.T) {
	useMemoryBackend(t)
	t.Setenv("CHUNK_SIZE", "10")
	t.Setenv("CHUNK_OVERLAP", "10")

	_, err := runCmd(t, "index", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline")
}

func TestSearchCmd_EmptyStore(t *testing.T) {
	useMemoryBackend(t)

	out, err := runCmd(t, "search", "anything")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestAskCmd_NoResults(t *testing.T) {
	useMemoryBackend(t)

	out, err := runCmd(t, "ask", "anything", "at", "all")
	require.NoError(t, err)
	assert.Equal(t, "No relevant document found.\n", out)
}

func TestSearchCmd_UnknownBackend(t *testing.T) {
	useMemoryBackend(t)
	t.Setenv("STORE_BACKEND", "redis")

	_, err := runCmd(t, "search", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}

func TestRunsCmd_HistoryDisabled(t *testing.T) {
	useMemoryBackend(t)
	t.Setenv("LEANN_HISTORY_DB", "disabled")

	_, err := runCmd(t, "runs")
	require.Error(t, err)
}

func TestRunsCmd_InvalidLimit(t *testing.T) {
	useMemoryBackend(t)

	_, err := runCmd(t, "runs", "--limit", "0")
	require.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LEANN_TEST_STR", "value")
	t.Setenv("LEANN_TEST_INT", "42")
	t.Setenv("LEANN_TEST_BAD_INT", "forty")
	t.Setenv("LEANN_TEST_DUR", "3s")
	t.Setenv("LEANN_TEST_BAD_DUR", "soon")

	assert.Equal(t, "value", getEnvOrDefault("LEANN_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("LEANN_TEST_UNSET", "fallback"))
	assert.Equal(t, 42, getEnvInt("LEANN_TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("LEANN_TEST_BAD_INT", 7))
	assert.Equal(t, 3*time.Second, getEnvDuration("LEANN_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("LEANN_TEST_BAD_DUR", time.Second))
}

func TestOpenRunStore_Disabled(t *testing.T) {
	t.Setenv("LEANN_HISTORY_DB", "disabled")
	assert.Nil(t, openRunStore(newQuietLogger()))
}

func TestOpenRunStore_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	t.Setenv("LEANN_HISTORY_DB", path)

	rs := openRunStore(newQuietLogger())
	require.NotNil(t, rs)
	t.Cleanup(func() { _ = rs.Close() })
	assert.FileExists(t, path)
}
