package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptpipe/promptpipe/internal/domain"
)

func queueRecords(n int) []*domain.Record {
	records := make([]*domain.Record, n)
	for i := range records {
		records[i] = &domain.Record{Index: i, Prompt: domain.Prompt{Kind: domain.PromptPlainText, Text: "x"}}
	}
	return records
}

func TestRetryQueueDrainsInOrder(t *testing.T) {
	records := queueRecords(3)
	q := newRetryQueue(records)

	for i := 0; i < 3; i++ {
		rec, ok := q.next()
		require.True(t, ok)
		assert.Equal(t, i, rec.Index)
		q.done()
	}

	_, ok := q.next()
	assert.False(t, ok)
}

func TestRetryQueueRequeueGoesToBack(t *testing.T) {
	records := queueRecords(3)
	q := newRetryQueue(records)

	first, _ := q.next()
	q.requeue(first)

	second, _ := q.next()
	assert.Equal(t, 1, second.Index)
	q.done()

	third, _ := q.next()
	assert.Equal(t, 2, third.Index)
	q.done()

	retried, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, 0, retried.Index)
	q.done()

	_, ok = q.next()
	assert.False(t, ok)
}

func TestRetryQueueNextBlocksWhileInFlight(t *testing.T) {
	// One record in flight, queue empty: next must wait, because the
	// in-flight attempt may still requeue.
	q := newRetryQueue(queueRecords(1))

	rec, ok := q.next()
	require.True(t, ok)

	got := make(chan *domain.Record, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, ok := q.next()
		if ok {
			got <- r
		}
		close(got)
	}()

	// Give the goroutine time to block, then requeue the in-flight record.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-got:
		t.Fatal("next returned before requeue")
	default:
	}

	q.requeue(rec)
	wg.Wait()

	r, open := <-got
	require.True(t, open)
	assert.Equal(t, rec, r)
	q.done()
}

func TestRetryQueueDoneReleasesWaiters(t *testing.T) {
	q := newRetryQueue(queueRecords(1))
	_, ok := q.next()
	require.True(t, ok)

	released := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		released <- ok
	}()

	q.done()

	select {
	case ok := <-released:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released after done")
	}
}
