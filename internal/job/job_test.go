package job

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptpipe/promptpipe/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		DataFolder:  t.TempDir(),
		MaxQueries:  50,
		MaxAttempts: 3,
	}
	require.NoError(t, cfg.EnsureFolders())
	return cfg
}

func writeJobFile(t *testing.T, cfg config.Config, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(cfg.InputDir(), name)
	var content string
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewJob(t *testing.T) {
	cfg := testConfig(t)
	discovered := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	path := writeJobFile(t, cfg, "batch.jsonl",
		`{"api":"test","model_name":"m","prompt":"one"}`,
		``,
		`{"api":"test","model_name":"m","prompt":"two"}`,
	)

	j, err := New(path, cfg, config.RateLimits{}, discovered)
	require.NoError(t, err)

	assert.Equal(t, "batch", j.Name)
	assert.Equal(t, 2, j.NumQueries)
	require.Len(t, j.Records, 2)
	assert.Equal(t, 0, j.Records[0].Index)
	assert.Equal(t, 1, j.Records[1].Index)
	require.Len(t, j.Buckets, 1)
	assert.Equal(t, 50, j.Buckets["test"].RateLimit)

	// Artifact paths are deterministic in discovery timestamp and name.
	outDir := filepath.Join(cfg.OutputDir(), "batch")
	assert.Equal(t, outDir, j.OutputDir)
	assert.Equal(t, filepath.Join(outDir, "20260314-092653-input-batch.jsonl"), j.SnapshotPath)
	assert.Equal(t, filepath.Join(outDir, "20260314-092653-completed-batch.jsonl"), j.CompletedPath)
	assert.Equal(t, filepath.Join(outDir, "20260314-092653-batch-log.txt"), j.LogPath)
}

func TestNewJobStructuralErrors(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()

	t.Run("bad_extension", func(t *testing.T) {
		path := filepath.Join(cfg.InputDir(), "batch.csv")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		_, err := New(path, cfg, config.RateLimits{}, now)
		assert.ErrorIs(t, err, ErrBadExtension)
	})

	t.Run("outside_input_folder", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "batch.jsonl")
		require.NoError(t, os.WriteFile(path, []byte(`{"prompt":"hi"}`), 0o644))

		_, err := New(path, cfg, config.RateLimits{}, now)
		assert.ErrorIs(t, err, ErrOutsideInput)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := New(filepath.Join(cfg.InputDir(), "absent.jsonl"), cfg, config.RateLimits{}, now)
		assert.Error(t, err)
	})

	t.Run("malformed_line_reports_line_number", func(t *testing.T) {
		path := writeJobFile(t, cfg, "broken.jsonl",
			`{"api":"test","prompt":"ok"}`,
			`{not json}`,
		)

		_, err := New(path, cfg, config.RateLimits{}, now)
		require.ErrorIs(t, err, ErrMalformedLine)
		assert.Contains(t, err.Error(), "2")
	})

	t.Run("empty_file", func(t *testing.T) {
		path := writeJobFile(t, cfg, "empty.jsonl")
		_, err := New(path, cfg, config.RateLimits{}, now)
		assert.ErrorIs(t, err, ErrNoRecords)
	})

	t.Run("bad_prompt_shape_is_structural", func(t *testing.T) {
		path := writeJobFile(t, cfg, "shapes.jsonl", `{"api":"test","prompt":42}`)
		_, err := New(path, cfg, config.RateLimits{}, now)
		assert.ErrorIs(t, err, ErrMalformedLine)
	})
}

func TestWriteSnapshot(t *testing.T) {
	cfg := testConfig(t)
	path := writeJobFile(t, cfg, "snap.jsonl",
		`{"id":"a","api":"test","model_name":"m","prompt":"one"}`,
		`{"id":"b","api":"test","model_name":"m","prompt":[{"role":"user","content":"two"}]}`,
	)

	j, err := New(path, cfg, config.RateLimits{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(j.OutputDir, 0o755))
	require.NoError(t, j.WriteSnapshot())

	f, err := os.Open(j.SnapshotPath)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj), "snapshot line must be valid JSON")
		ids = append(ids, fmt.Sprintf("%v", obj["id"]))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"a", "b"}, ids)
}
