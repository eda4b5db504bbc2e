package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned for work submitted after Close.
var ErrQueueClosed = errors.New("session queue closed")

// sessionQueue runs jobs one at a time per session, in submission order.
// Sessions are independent: each gets its own worker goroutine, which exits
// after sitting idle.
type sessionQueue struct {
	idle   time.Duration
	buffer int
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

type worker struct {
	session string
	jobs    chan *job

	// Guarded by sessionQueue.mu.
	pending int
	cancel  context.CancelFunc
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error // nil for Submit; those jobs log their own errors
}

func newSessionQueue(idle time.Duration, buffer int, logger *slog.Logger) *sessionQueue {
	if idle <= 0 {
		idle = time.Minute
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &sessionQueue{
		idle:    idle,
		buffer:  buffer,
		logger:  logger,
		workers: make(map[string]*worker),
		stop:    make(chan struct{}),
	}
}

// Do runs fn on the session's worker and waits for it. If ctx ends first
// Do returns ctx.Err(); a job that has not started by then is skipped.
func (q *sessionQueue) Do(ctx context.Context, session string, fn func(context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := q.enqueue(session, j); err != nil {
		return err
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn without waiting for it.
func (q *sessionQueue) Submit(session string, fn func(context.Context) error) error {
	return q.enqueue(session, &job{ctx: context.Background(), fn: fn})
}

// CancelCurrent cancels the context of the session's running job, if any.
func (q *sessionQueue) CancelCurrent(session string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	w := q.workers[session]
	if w == nil || w.cancel == nil {
		return false
	}
	w.cancel()
	return true
}

// Close stops accepting work and waits for queued jobs to drain.
func (q *sessionQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *sessionQueue) enqueue(session string, j *job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	w := q.workers[session]
	if w == nil {
		w = &worker{session: session, jobs: make(chan *job, q.buffer)}
		q.workers[session] = w
		q.wg.Add(1)
		go q.run(w)
	}
	w.pending++
	q.mu.Unlock()

	w.jobs <- j
	return nil
}

func (q *sessionQueue) run(w *worker) {
	defer q.wg.Done()
	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case j := <-w.jobs:
			q.exec(w, j)
			timer.Reset(q.idle)
		case <-timer.C:
			if q.retire(w) {
				return
			}
			timer.Reset(q.idle)
		case <-q.stop:
			if q.retire(w) {
				return
			}
			// Jobs are still arriving; let them drain.
			select {
			case j := <-w.jobs:
				q.exec(w, j)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// retire removes an idle worker. It fails if work was enqueued meanwhile.
func (q *sessionQueue) retire(w *worker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.pending > 0 {
		return false
	}
	delete(q.workers, w.session)
	return true
}

func (q *sessionQueue) exec(w *worker, j *job) {
	q.mu.Lock()
	w.pending--
	if err := j.ctx.Err(); err != nil {
		q.mu.Unlock()
		j.finish(err)
		return
	}
	ctx, cancel := context.WithCancel(j.ctx)
	w.cancel = cancel
	q.mu.Unlock()

	err := q.call(ctx, w.session, j.fn)

	cancel()
	q.mu.Lock()
	w.cancel = nil
	q.mu.Unlock()
	j.finish(err)
}

func (q *sessionQueue) call(ctx context.Context, session string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("session job panicked", "session", session, "panic", r)
			err = fmt.Errorf("session job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (j *job) finish(err error) {
	if j.done != nil {
		j.done <- err
	}
}
