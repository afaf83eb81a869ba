package pipeline

import (
	"sync"
	"time"
)

// Stats is the process-lifetime rolling list of per-job average per-query
// times. It only grows; the running mean feeds ETA estimates for jobs not
// yet started. Until the first job completes, estimates are unknown.
type Stats struct {
	mu     sync.Mutex
	perJob []float64 // average seconds per query, one entry per finished job
}

// NewStats creates ETA statistics, optionally seeded with historical
// averages (for example from the job-history store).
func NewStats(seed []float64) *Stats {
	return &Stats{perJob: append([]float64(nil), seed...)}
}

// Add appends one finished job's average per-query seconds.
func (s *Stats) Add(avgSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perJob = append(s.perJob, avgSeconds)
}

// Jobs returns how many job averages have been observed.
func (s *Stats) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.perJob)
}

// MeanPerQuery returns the running mean of per-query seconds across
// observed jobs, and false while no job has completed.
func (s *Stats) MeanPerQuery() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.perJob) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range s.perJob {
		sum += v
	}
	return sum / float64(len(s.perJob)), true
}

// Estimate returns the projected completion time for a job of numQueries
// records, and false while no history exists yet.
func (s *Stats) Estimate(numQueries int) (time.Duration, bool) {
	mean, ok := s.MeanPerQuery()
	if !ok {
		return 0, false
	}
	return time.Duration(mean * float64(numQueries) * float64(time.Second)), true
}
