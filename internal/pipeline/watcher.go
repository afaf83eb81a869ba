// Package pipeline implements the job-queue watcher: it perpetually polls
// the input folder, runs discovered jobs oldest-first, and maintains timing
// statistics for ETA estimates.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/promptpipe/promptpipe/internal/config"
	"github.com/promptpipe/promptpipe/internal/job"
)

// JobHistory persists finished-job rows. Implemented by the sqlite history
// store; nil disables persistence.
type JobHistory interface {
	RecordJob(ctx context.Context, e HistoryEntry) error
}

// HistoryEntry is one finished job's summary for the history store.
type HistoryEntry struct {
	RunID              string
	JobName            string
	Records            int
	Failed             int
	AvgPerQuerySeconds float64
	StartedAt          time.Time
	FinishedAt         time.Time
}

// Watcher discovers and runs jobs, one at a time by default or concurrently
// in parallel mode. Per-record failures never surface here; job-level
// structural errors propagate out of Run.
type Watcher struct {
	cfg        config.Config
	limits     config.RateLimits
	dispatcher *job.Dispatcher
	stats      *Stats
	history    JobHistory
	logger     *slog.Logger
}

// NewWatcher builds a watcher around a dispatcher. history may be nil.
func NewWatcher(cfg config.Config, limits config.RateLimits, d *job.Dispatcher, stats *Stats, history JobHistory, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStats(nil)
	}
	return &Watcher{
		cfg:        cfg,
		limits:     limits,
		dispatcher: d,
		stats:      stats,
		history:    history,
		logger:     logger,
	}
}

// queueEntry is one discovered job file in the poll snapshot.
type queueEntry struct {
	path    string
	modTime time.Time
}

// poll lists job files in the input folder sorted ascending by modification
// time, ties broken by name, so ordering is deterministic for a snapshot.
func (w *Watcher) poll() ([]queueEntry, error) {
	entries, err := os.ReadDir(w.cfg.InputDir())
	if err != nil {
		return nil, fmt.Errorf("list input folder: %w", err)
	}

	var queue []queueEntry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != job.FileExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Raced with deletion; drop it from this snapshot.
			continue
		}
		queue = append(queue, queueEntry{
			path:    filepath.Join(w.cfg.InputDir(), e.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(queue, func(i, j int) bool {
		if !queue[i].modTime.Equal(queue[j].modTime) {
			return queue[i].modTime.Before(queue[j].modTime)
		}
		return queue[i].path < queue[j].path
	})
	return queue, nil
}

// Run loops forever: poll, select the earliest job, run it, update stats.
// It returns on context cancellation or on a job-level structural error.
func (w *Watcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	errc := make(chan error, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		default:
		}

		queue, err := w.poll()
		if err != nil {
			return err
		}

		if len(queue) == 0 {
			if err := w.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		next := queue[0]
		w.logQueue(queue[1:])

		if !w.cfg.Parallel {
			if err := w.runOne(ctx, next); err != nil {
				return err
			}
			continue
		}

		// Parallel mode: claim happens inside runOne before dispatch, so the
		// next poll cannot select the same file again.
		j, err := w.claim(next)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.dispatch(ctx, j); err != nil {
				select {
				case errc <- err:
				default:
				}
			}
		}()
	}
}

// runOne claims and dispatches a single job synchronously.
func (w *Watcher) runOne(ctx context.Context, entry queueEntry) error {
	j, err := w.claim(entry)
	if err != nil {
		return err
	}
	return w.dispatch(ctx, j)
}

// claim parses the job file, persists the input snapshot, and removes the
// file from the input folder so it cannot be selected twice. Parse failures
// are structural and propagate.
func (w *Watcher) claim(entry queueEntry) (*job.Job, error) {
	j, err := job.New(entry.path, w.cfg, w.limits, time.Now())
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", filepath.Base(entry.path), err)
	}

	if err := os.MkdirAll(j.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("job %s: create output folder: %w", j.Name, err)
	}
	if err := j.WriteSnapshot(); err != nil {
		return nil, fmt.Errorf("job %s: %w", j.Name, err)
	}
	if err := os.Remove(j.Path); err != nil {
		return nil, fmt.Errorf("job %s: remove input file: %w", j.Name, err)
	}
	return j, nil
}

// dispatch runs one claimed job to completion and records its timing.
func (w *Watcher) dispatch(ctx context.Context, j *job.Job) error {
	if eta, ok := w.stats.Estimate(j.NumQueries); ok {
		w.logger.Info("starting job", "job", j.Name, "run", j.RunID,
			"records", j.NumQueries, "eta", eta.Round(time.Second).String())
	} else {
		w.logger.Info("starting job", "job", j.Name, "run", j.RunID,
			"records", j.NumQueries, "eta", "unknown")
	}

	started := time.Now()
	res, err := w.dispatcher.RunJob(ctx, j)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}

	w.stats.Add(res.AvgPerQuery.Seconds())
	mean, _ := w.stats.MeanPerQuery()
	w.logger.Info("job finished", "job", j.Name, "run", j.RunID,
		"records", res.Records, "failed", res.Failed,
		"elapsed", res.Elapsed.Round(time.Millisecond).String(),
		"avg_per_query", res.AvgPerQuery.Round(time.Millisecond).String(),
		"mean_per_query_s", mean)

	if w.history != nil {
		entry := HistoryEntry{
			RunID:              j.RunID,
			JobName:            j.Name,
			Records:            res.Records,
			Failed:             res.Failed,
			AvgPerQuerySeconds: res.AvgPerQuery.Seconds(),
			StartedAt:          started,
			FinishedAt:         time.Now(),
		}
		if err := w.history.RecordJob(ctx, entry); err != nil {
			w.logger.Warn("failed to record job history", "job", j.Name, "error", err)
		}
	}
	return nil
}

// logQueue reports remaining queue depth and contents after a selection.
func (w *Watcher) logQueue(rest []queueEntry) {
	if len(rest) == 0 {
		return
	}
	names := make([]string, 0, len(rest))
	for _, e := range rest {
		names = append(names, filepath.Base(e.path))
	}
	w.logger.Info("jobs waiting", "depth", len(names), "queue", names)
}

// sleep waits the configured poll interval; zero keeps the legacy busy-poll.
func (w *Watcher) sleep(ctx context.Context) error {
	if w.cfg.PollInterval <= 0 {
		return nil
	}
	t := time.NewTimer(w.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
