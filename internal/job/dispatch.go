package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/promptpipe/promptpipe/internal/adapter"
	"github.com/promptpipe/promptpipe/internal/domain"
)

const excerptLen = 80

// Result summarizes one finished job.
type Result struct {
	Records     int
	Failed      int
	Elapsed     time.Duration
	AvgPerQuery time.Duration
}

// Dispatcher runs jobs: each bucket becomes a goroutine that issues adapter
// calls at its resolved rate, requeues failures up to MaxAttempts, and
// flushes every record exactly once to the completed file.
type Dispatcher struct {
	// Registry resolves api names to backend adapters.
	Registry *adapter.Registry

	// MaxAttempts is the per-record attempt ceiling (1 initial plus
	// MaxAttempts-1 retries).
	MaxAttempts int

	// Logger receives process-level events; per-record outcomes go to the
	// job's own log file.
	Logger *slog.Logger

	// Window is the rolling interval the bucket rate limit applies to.
	// Zero means the standard one-minute window; tests shrink it.
	Window time.Duration
}

func (d *Dispatcher) window() time.Duration {
	if d.Window > 0 {
		return d.Window
	}
	return time.Minute
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// RunJob drives one job to completion: output folder and snapshot, a
// pre-dispatch validation pass, then concurrent bucket dispatch. It returns
// when every bucket's queue, originals plus requeued retries, is drained.
// The completed file then holds exactly one line per input record.
func (d *Dispatcher) RunJob(ctx context.Context, j *Job) (Result, error) {
	start := time.Now()

	if err := os.MkdirAll(j.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output folder: %w", err)
	}
	if err := j.WriteSnapshot(); err != nil {
		return Result{}, err
	}

	completed, err := newCompletedWriter(j.CompletedPath)
	if err != nil {
		return Result{}, err
	}
	defer completed.Close()

	jlog, err := newJobLogger(j.LogPath)
	if err != nil {
		return Result{}, err
	}
	defer jlog.Close()

	jlog.Printf("job %s (run %s): %d records in %d buckets", j.Name, j.RunID, j.NumQueries, len(j.Buckets))

	valid := d.validate(j, completed, jlog)

	var wg sync.WaitGroup
	for key, b := range j.Buckets {
		records := valid[key]
		if len(records) == 0 {
			continue
		}
		wg.Add(1)
		go func(b *Bucket, records []*domain.Record) {
			defer wg.Done()
			d.runBucket(ctx, b, newRetryQueue(records), completed, jlog)
		}(b, records)
	}
	wg.Wait()

	res := Result{Records: j.NumQueries, Elapsed: time.Since(start)}
	for _, rec := range j.Records {
		if rec.Error != "" {
			res.Failed++
		}
	}
	if j.NumQueries > 0 {
		res.AvgPerQuery = res.Elapsed / time.Duration(j.NumQueries)
	}

	jlog.Printf("job %s: finished, %d/%d succeeded, %d failed, elapsed %s (avg %s per query)",
		j.Name, res.Records-res.Failed, res.Records, res.Failed, res.Elapsed.Round(time.Millisecond),
		res.AvgPerQuery.Round(time.Millisecond))

	return res, nil
}

// validate runs the pre-dispatch checks: the record's api must resolve to a
// registered adapter and pass its shape check. Failing records are flushed
// terminally with zero attempts; the rest are returned per bucket in file
// order.
func (d *Dispatcher) validate(j *Job, completed *completedWriter, jlog *jobLogger) map[string][]*domain.Record {
	valid := make(map[string][]*domain.Record, len(j.Buckets))

	for _, rec := range j.Records {
		ad, err := d.Registry.Pick(rec.API)
		if err != nil {
			d.failTerminal(rec, err.Error(), completed, jlog)
			continue
		}
		if issues := ad.CheckPromptShape(rec); adapter.HasFatal(issues) {
			msgs := make([]string, 0, len(issues))
			for _, is := range issues {
				if is.Severity == adapter.SeverityFatal {
					msgs = append(msgs, is.Message)
				}
			}
			d.failTerminal(rec, strings.Join(msgs, "; "), completed, jlog)
			continue
		}
		valid[rec.BucketKey()] = append(valid[rec.BucketKey()], rec)
	}

	return valid
}

// runBucket issues the bucket's requests. Starts are spaced so no rolling
// window holds more than RateLimit of them; the limiter is waited on before
// every start, first attempts and retries alike. Requests themselves run
// concurrently once started.
func (d *Dispatcher) runBucket(ctx context.Context, b *Bucket, q *retryQueue, completed *completedWriter, jlog *jobLogger) {
	limiter := rate.NewLimiter(rate.Every(d.window()/time.Duration(b.RateLimit)), 1)

	var wg sync.WaitGroup
	for {
		rec, ok := q.next()
		if !ok {
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			// Shutdown: flush what remains so no record is dropped silently.
			d.failTerminal(rec, fmt.Sprintf("dispatch aborted: %v", err), completed, jlog)
			q.done()
			continue
		}

		wg.Add(1)
		go func(rec *domain.Record) {
			defer wg.Done()
			d.attempt(ctx, rec, q, completed, jlog)
		}(rec)
	}
	wg.Wait()
}

// attempt performs one adapter call and decides requeue versus terminal
// write. Any failure with attempts remaining goes to the back of the
// bucket's queue; an exhausted record is flushed with its error.
func (d *Dispatcher) attempt(ctx context.Context, rec *domain.Record, q *retryQueue, completed *completedWriter, jlog *jobLogger) {
	ad, err := d.Registry.Pick(rec.API)
	if err != nil {
		// Unreachable after validate; belt and braces for direct callers.
		d.failTerminal(rec, err.Error(), completed, jlog)
		q.done()
		return
	}

	rec.Attempts++
	if err := ad.Query(ctx, rec, rec.Index); err != nil {
		jlog.Printf("error | record %s | %s | attempt %d/%d | prompt: %s | %v",
			rec.DisplayID(), rec.Label(), rec.Attempts, d.MaxAttempts, rec.Prompt.Excerpt(excerptLen), err)

		if rec.Attempts < d.MaxAttempts {
			q.requeue(rec)
			return
		}

		rec.Error = err.Error()
		d.flush(rec, completed, jlog)
		q.done()
		return
	}

	jlog.Printf("success | record %s | %s | prompt: %s | response: %s",
		rec.DisplayID(), rec.Label(), rec.Prompt.Excerpt(excerptLen), responseExcerpt(rec.Response))
	d.flush(rec, completed, jlog)
	q.done()
}

// failTerminal marks a record failed without (further) attempts and flushes it.
func (d *Dispatcher) failTerminal(rec *domain.Record, msg string, completed *completedWriter, jlog *jobLogger) {
	rec.Error = msg
	jlog.Printf("error | record %s | %s | %s", rec.DisplayID(), rec.Label(), msg)
	d.flush(rec, completed, jlog)
}

func (d *Dispatcher) flush(rec *domain.Record, completed *completedWriter, jlog *jobLogger) {
	if err := completed.WriteRecord(rec); err != nil {
		d.logger().Error("failed to flush record", "record", rec.DisplayID(), "error", err)
		jlog.Printf("error | record %s | flush failed: %v", rec.DisplayID(), err)
	}
}

func responseExcerpt(resp any) string {
	s, ok := resp.(string)
	if !ok {
		s = fmt.Sprintf("%v", resp)
	}
	runes := []rune(s)
	if len(runes) <= excerptLen {
		return s
	}
	return string(runes[:excerptLen]) + "..."
}
