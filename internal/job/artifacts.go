package job

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// lineWriter appends whole lines to a file under a mutex. Concurrent bucket
// goroutines share one writer per file; each line goes out in a single
// Write call so interrupted runs never leave truncated or interleaved lines.
type lineWriter struct {
	mu sync.Mutex
	f  *os.File
}

func newLineWriter(path string) (*lineWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &lineWriter{f: f}, nil
}

func (w *lineWriter) writeLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.f.Write(buf)
	return err
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// completedWriter flushes records to the completed file as JSON lines.
// Every record is written exactly once, in its terminal state.
type completedWriter struct {
	lw *lineWriter
}

func newCompletedWriter(path string) (*completedWriter, error) {
	lw, err := newLineWriter(path)
	if err != nil {
		return nil, err
	}
	return &completedWriter{lw: lw}, nil
}

func (w *completedWriter) WriteRecord(rec *domain.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.DisplayID(), err)
	}
	return w.lw.writeLine(line)
}

func (w *completedWriter) Close() error { return w.lw.Close() }

// jobLogger writes the per-job human-readable log: one timestamped line per
// success, failure, and progress event.
type jobLogger struct {
	lw *lineWriter
}

func newJobLogger(path string) (*jobLogger, error) {
	lw, err := newLineWriter(path)
	if err != nil {
		return nil, err
	}
	return &jobLogger{lw: lw}, nil
}

func (l *jobLogger) Printf(format string, args ...any) {
	line := fmt.Sprintf("%s | %s", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	// Log lines are best effort; a full disk should not fail the dispatch.
	_ = l.lw.writeLine([]byte(line))
}

func (l *jobLogger) Close() error { return l.lw.Close() }
