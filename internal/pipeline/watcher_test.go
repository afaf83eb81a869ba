package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptpipe/promptpipe/internal/adapter"
	"github.com/promptpipe/promptpipe/internal/config"
	"github.com/promptpipe/promptpipe/internal/domain"
	"github.com/promptpipe/promptpipe/internal/job"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string                                     { return s.name }
func (s stubAdapter) CheckEnvironment() []adapter.Issue                { return nil }
func (s stubAdapter) CheckPromptShape(*domain.Record) []adapter.Issue  { return nil }
func (s stubAdapter) Query(_ context.Context, rec *domain.Record, _ int) error {
	rec.Response = "ok"
	return nil
}

// memHistory records finished jobs in memory in completion order.
type memHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

func (h *memHistory) RecordJob(_ context.Context, e HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *memHistory) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		names = append(names, e.JobName)
	}
	return names
}

func watcherConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		DataFolder:   t.TempDir(),
		MaxQueries:   50,
		MaxAttempts:  3,
		PollInterval: 10 * time.Millisecond,
	}
	require.NoError(t, cfg.EnsureFolders())
	return cfg
}

func newTestWatcher(cfg config.Config, history JobHistory) *Watcher {
	d := &job.Dispatcher{
		Registry:    adapter.NewStaticRegistry(stubAdapter{name: "stub"}),
		MaxAttempts: cfg.MaxAttempts,
		Window:      20 * time.Millisecond,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d.Logger = logger
	return NewWatcher(cfg, config.RateLimits{}, d, NewStats(nil), history, logger)
}

// stampFile writes a one-record job file and backdates its mtime.
func stampFile(t *testing.T, cfg config.Config, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(cfg.InputDir(), name)
	line := fmt.Sprintf(`{"id":%q,"api":"stub","prompt":"from %s"}`+"\n", name, name)
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestPollOrdersByModTimeNotName(t *testing.T) {
	cfg := watcherConfig(t)
	w := newTestWatcher(cfg, nil)

	base := time.Now().Add(-time.Hour)
	// Alphabetical order is the reverse of arrival order.
	stampFile(t, cfg, "zebra.jsonl", base)
	stampFile(t, cfg, "middle.jsonl", base.Add(time.Minute))
	stampFile(t, cfg, "alpha.jsonl", base.Add(2*time.Minute))

	queue, err := w.poll()
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, "zebra.jsonl", filepath.Base(queue[0].path))
	assert.Equal(t, "middle.jsonl", filepath.Base(queue[1].path))
	assert.Equal(t, "alpha.jsonl", filepath.Base(queue[2].path))
}

func TestPollTieBreaksByName(t *testing.T) {
	cfg := watcherConfig(t)
	w := newTestWatcher(cfg, nil)

	same := time.Now().Add(-time.Hour)
	stampFile(t, cfg, "b.jsonl", same)
	stampFile(t, cfg, "a.jsonl", same)

	queue, err := w.poll()
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "a.jsonl", filepath.Base(queue[0].path))
	assert.Equal(t, "b.jsonl", filepath.Base(queue[1].path))
}

func TestPollIgnoresNonJobEntries(t *testing.T) {
	cfg := watcherConfig(t)
	w := newTestWatcher(cfg, nil)

	stampFile(t, cfg, "real.jsonl", time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InputDir(), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(cfg.InputDir(), "nested.jsonl"), 0o755))

	queue, err := w.poll()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "real.jsonl", filepath.Base(queue[0].path))
}

func TestClaimSnapshotsAndRemovesInput(t *testing.T) {
	cfg := watcherConfig(t)
	w := newTestWatcher(cfg, nil)

	stampFile(t, cfg, "claimme.jsonl", time.Now())
	queue, err := w.poll()
	require.NoError(t, err)
	require.Len(t, queue, 1)

	j, err := w.claim(queue[0])
	require.NoError(t, err)

	// Snapshot persisted before the input file goes away.
	_, err = os.Stat(j.SnapshotPath)
	assert.NoError(t, err)
	_, err = os.Stat(queue[0].path)
	assert.True(t, os.IsNotExist(err), "claimed input file must be removed")
}

func TestRunProcessesJobsOldestFirst(t *testing.T) {
	cfg := watcherConfig(t)
	history := &memHistory{}
	w := newTestWatcher(cfg, history)

	base := time.Now().Add(-time.Hour)
	stampFile(t, cfg, "third.jsonl", base.Add(2*time.Minute))
	stampFile(t, cfg, "first.jsonl", base)
	stampFile(t, cfg, "second.jsonl", base.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(history.names()) == 3
	}, 5*time.Second, 10*time.Millisecond, "watcher did not finish all jobs")

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Equal(t, []string{"first", "second", "third"}, history.names())

	// Input folder drained; each job has a completed file.
	entries, err := os.ReadDir(cfg.InputDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	for _, name := range []string{"first", "second", "third"} {
		matches, err := filepath.Glob(filepath.Join(cfg.OutputDir(), name, "*-completed-*"+job.FileExt))
		require.NoError(t, err)
		assert.Len(t, matches, 1, "job %s missing completed file", name)
	}
}

func TestRunParallelDrainsQueue(t *testing.T) {
	cfg := watcherConfig(t)
	cfg.Parallel = true
	history := &memHistory{}
	w := newTestWatcher(cfg, history)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		stampFile(t, cfg, fmt.Sprintf("par%d.jsonl", i), base.Add(time.Duration(i)*time.Second))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(history.names()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.ElementsMatch(t, []string{"par0", "par1", "par2"}, history.names())
}

func TestRunStructuralErrorStopsWatcher(t *testing.T) {
	cfg := watcherConfig(t)
	w := newTestWatcher(cfg, nil)

	path := filepath.Join(cfg.InputDir(), "broken.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := w.Run(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "broken.jsonl")
}
