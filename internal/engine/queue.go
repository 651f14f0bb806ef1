package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/convoke-ai/convoke/internal/conversation"
	"github.com/convoke-ai/convoke/pkg/types"
)

// request is one queued generation turn.
type request struct {
	ctx      context.Context
	conv     *conversation.Conversation
	prompt   string
	params   types.GenerationParams
	rounds   int
	callback func(*types.TurnOutcome, error)
}

// queue serialises turns per conversation while letting different
// conversations run concurrently, up to a global concurrency cap.
//
// Each conversation gets a FIFO of pending requests. The first enqueue for a
// conversation starts a worker goroutine that drains the FIFO in order; the
// worker exits when the FIFO empties. At most one turn runs per conversation
// at any time, by construction.
type queue struct {
	run func(*request) (*types.TurnOutcome, error)
	sem *semaphore.Weighted

	mu      sync.Mutex
	pending map[string][]*request
	closed  bool

	wg sync.WaitGroup
}

// newQueue creates a queue running turns through run, with at most
// maxConcurrent turns executing across all conversations.
func newQueue(run func(*request) (*types.TurnOutcome, error), maxConcurrent int64) *queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &queue{
		run:     run,
		sem:     semaphore.NewWeighted(maxConcurrent),
		pending: make(map[string][]*request),
	}
}

// enqueue appends r to its conversation's FIFO, starting a worker if the
// FIFO was empty. Returns ErrClosed after close.
func (q *queue) enqueue(r *request) error {
	id := r.conv.ID()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending[id] = append(q.pending[id], r)
	starting := len(q.pending[id]) == 1
	if starting {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if starting {
		go q.worker(id)
	}
	return nil
}

// worker drains one conversation's FIFO in order. A request is popped only
// after it finishes, so pendingLen stays non-zero while a turn runs.
func (q *queue) worker(id string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		fifo := q.pending[id]
		if len(fifo) == 0 {
			delete(q.pending, id)
			q.mu.Unlock()
			return
		}
		r := fifo[0]
		q.mu.Unlock()

		q.process(r)

		q.mu.Lock()
		q.pending[id] = q.pending[id][1:]
		q.mu.Unlock()
	}
}

// process runs a single request under the global concurrency cap and
// delivers exactly one of (outcome, error) to the callback.
func (q *queue) process(r *request) {
	if err := q.sem.Acquire(r.ctx, 1); err != nil {
		q.finish(r, nil, err)
		return
	}
	outcome, err := q.run(r)
	q.sem.Release(1)
	q.finish(r, outcome, err)
}

// finish invokes the callback with exactly one non-nil argument.
func (q *queue) finish(r *request, outcome *types.TurnOutcome, err error) {
	if r.callback == nil {
		return
	}
	if err != nil {
		r.callback(nil, err)
		return
	}
	r.callback(outcome, nil)
}

// pendingLen reports how many requests are queued or running for id.
func (q *queue) pendingLen(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[id])
}

// close rejects further enqueues and waits for all workers to drain.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
