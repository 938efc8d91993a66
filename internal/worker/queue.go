package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/cjeanneret/snapgo/internal/debug"
)

// ErrClosed is returned when posting to a queue that has been closed.
var ErrClosed = errors.New("worker queue closed")

// Queue is a single background goroutine executing tasks one at a time,
// in the order they were posted. Everything that touches camera state runs
// on it, so the tasks themselves need no locking.
//
// The backlog is unbounded: Post never blocks, including when a task posts
// a follow-up task onto its own queue.
type Queue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	done chan struct{}
}

// New starts a queue. name only appears in logs.
func New(name string) *Queue {
	q := &Queue{
		name: name,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	debug.Trace("Worker %s: started", name)
	return q
}

// Post appends fn to the queue.
func (q *Queue) Post(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
	return nil
}

// Do posts fn and waits until it has run, or ctx is done.
// Calling Do from inside a task of the same queue deadlocks; tasks should Post.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := q.Post(func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, lets the backlog drain and waits for the
// goroutine to exit. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	<-q.done
}

// Done is closed once the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			debug.Trace("Worker %s: stopped", q.name)
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.run(fn)
	}
}

// run executes one task. A panicking task is logged and the queue survives it.
func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			debug.Info("Worker %s: task panicked: %v", q.name, r)
		}
	}()
	fn()
}
