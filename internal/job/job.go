// Package job turns one input file into a fully-attempted, persisted set of
// prompt records: parsing, rate-bucket grouping, throttled concurrent
// dispatch with bounded retries, and crash-safe incremental output.
package job

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/promptpipe/promptpipe/internal/config"
	"github.com/promptpipe/promptpipe/internal/domain"
)

// FileExt is the extension job files must carry.
const FileExt = ".jsonl"

const timestampLayout = "20060102-150405"

// Structural job errors (fatal to the whole job, never to single records).
var (
	ErrBadExtension  = errors.New("job file must have .jsonl extension")
	ErrOutsideInput  = errors.New("job file is not in the input folder")
	ErrMalformedLine = errors.New("malformed job file line")
	ErrNoRecords     = errors.New("job file contains no records")
)

const (
	initialLineBuffer = 64 * 1024
	maxLineBytes      = 16 * 1024 * 1024
)

// Job is one batch of prompt records from a single input file, identified by
// file name plus discovery timestamp, with artifact paths derived
// deterministically from both.
type Job struct {
	// Name is the file base name without extension.
	Name string

	// Path is the input file's location in the watched folder.
	Path string

	// RunID correlates this run's log lines and history row.
	RunID string

	// Discovered is the timestamp the watcher selected the file; artifact
	// names embed it.
	Discovered time.Time

	// Records in original file order.
	Records []*domain.Record

	// Buckets is the grouping table: bucket key to records plus resolved
	// rate limit.
	Buckets map[string]*Bucket

	// NumQueries is the record count, used for ETA estimates.
	NumQueries int

	// Artifact paths under the job's output folder.
	OutputDir     string
	SnapshotPath  string
	CompletedPath string
	LogPath       string
}

// New validates and parses a job file, groups its records into rate buckets,
// and derives artifact paths. Every line parses independently; the first
// malformed line fails the whole job with its line number attached.
func New(path string, cfg config.Config, limits config.RateLimits, discovered time.Time) (*Job, error) {
	if filepath.Ext(path) != FileExt {
		return nil, fmt.Errorf("%w: %s", ErrBadExtension, path)
	}
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(cfg.InputDir()) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideInput, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()

	var records []*domain.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := domain.ParseRecord(raw, len(records))
		if err != nil {
			return nil, fmt.Errorf("%w %d: %v", ErrMalformedLine, lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecords, path)
	}

	base := strings.TrimSuffix(filepath.Base(path), FileExt)
	stamp := discovered.Format(timestampLayout)
	outDir := filepath.Join(cfg.OutputDir(), base)

	return &Job{
		Name:          base,
		Path:          path,
		RunID:         ulid.Make().String(),
		Discovered:    discovered,
		Records:       records,
		Buckets:       buildBuckets(records, limits, cfg.MaxQueries),
		NumQueries:    len(records),
		OutputDir:     outDir,
		SnapshotPath:  filepath.Join(outDir, fmt.Sprintf("%s-input-%s%s", stamp, base, FileExt)),
		CompletedPath: filepath.Join(outDir, fmt.Sprintf("%s-completed-%s%s", stamp, base, FileExt)),
		LogPath:       filepath.Join(outDir, fmt.Sprintf("%s-%s-log.txt", stamp, base)),
	}, nil
}

// WriteSnapshot persists the parsed input verbatim, one JSON line per
// record, before any dispatch starts.
func (j *Job) WriteSnapshot() error {
	f, err := os.OpenFile(j.SnapshotPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range j.Records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.DisplayID(), err)
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}
	return w.Flush()
}
