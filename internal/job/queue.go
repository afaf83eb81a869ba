package job

import (
	"sync"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// retryQueue is one bucket's pending queue. First attempts are seeded in
// file order; failed records re-enter at the back, so a later record's first
// attempt can run before an earlier record's retry.
//
// outstanding counts records not yet terminal (queued or in flight). next
// must keep blocking while the queue is empty but attempts are still in
// flight: any of them may requeue.
type retryQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pending     []*domain.Record
	outstanding int
}

func newRetryQueue(records []*domain.Record) *retryQueue {
	q := &retryQueue{
		pending:     append([]*domain.Record(nil), records...),
		outstanding: len(records),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// next pops the head of the queue, blocking until a record is available.
// It returns false once every record has reached a terminal state.
func (q *retryQueue) next() (*domain.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && q.outstanding > 0 {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		return nil, false
	}

	rec := q.pending[0]
	q.pending = q.pending[1:]
	return rec, true
}

// requeue returns a failed record to the back of the queue for another
// attempt.
func (q *retryQueue) requeue(rec *domain.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, rec)
	q.cond.Broadcast()
}

// done marks one record terminal. When the last record finishes, blocked
// next callers are released.
func (q *retryQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding == 0 {
		q.cond.Broadcast()
	}
}
