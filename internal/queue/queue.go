package queue

import (
	"container/heap"
	"context"
	"sync"
)

// Worker processes a single task. A returned error hands the task to the
// queue's OnError callback, which may re-enqueue it.
type Worker[T any] func(ctx context.Context, task T, q *Queue[T]) error

// OnError is invoked after a worker fails. It runs outside the queue lock,
// so it may safely call back into the queue.
type OnError[T any] func(ctx context.Context, err error, task T, q *Queue[T])

// Options configures a Queue.
type Options[T any] struct {
	// Worker processes tasks. Required.
	Worker Worker[T]

	// Concurrency bounds the number of tasks processed at once.
	// Values below 1 are treated as 1.
	Concurrency int

	// AutoStart begins dispatching as soon as Start is called. When false
	// the queue accumulates tasks until Resume.
	AutoStart bool

	// OnError receives worker failures. When nil, failed tasks are dropped.
	OnError OnError[T]
}

// Queue is a bounded-concurrency priority task queue. Higher priority tasks
// dispatch first; tasks of equal priority dispatch in insertion order.
type Queue[T any] struct {
	mu sync.Mutex

	worker      Worker[T]
	onError     OnError[T]
	concurrency int

	heap    taskHeap[T]
	seq     uint64
	pending int
	paused  bool
	started bool
	ctx     context.Context

	idleCh chan struct{}
}

// New builds a queue from options. Start must be called before any task is
// dispatched.
func New[T any](opts Options[T]) *Queue[T] {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Queue[T]{
		worker:      opts.Worker,
		onError:     opts.OnError,
		concurrency: concurrency,
		paused:      !opts.AutoStart,
	}
}

// Start binds the queue to a context and begins dispatching if the queue is
// not paused. The context cancels all in-flight workers.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ctx = ctx
	q.started = true
	q.dispatchLocked()
}

// AddTask enqueues a task at the given priority.
func (q *Queue[T]) AddTask(task T, priority int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.heap, &item[T]{
		task:     task,
		priority: priority,
		seq:      q.seq,
	})
	q.dispatchLocked()
}

// Pause stops dispatching new tasks. In-flight tasks run to completion.
func (q *Queue[T]) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paused = true
}

// Resume restarts dispatching.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paused = false
	q.dispatchLocked()
}

// Clear drops all queued tasks. In-flight tasks are unaffected.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = q.heap[:0]
	q.notifyIdleLocked()
}

// Size returns the number of queued, not yet dispatched tasks.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.heap)
}

// Pending returns the number of in-flight tasks.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending
}

// OnIdle blocks until the queue has no queued and no in-flight tasks, or the
// context is done.
func (q *Queue[T]) OnIdle(ctx context.Context) error {
	q.mu.Lock()
	if len(q.heap) == 0 && q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.idleCh == nil {
		q.idleCh = make(chan struct{})
	}
	ch := q.idleCh
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLocked launches workers for queued tasks up to the concurrency
// bound. Callers must hold q.mu.
func (q *Queue[T]) dispatchLocked() {
	if !q.started || q.paused {
		return
	}

	for q.pending < q.concurrency && len(q.heap) > 0 {
		it := heap.Pop(&q.heap).(*item[T])
		q.pending++

		go q.run(it.task)
	}
}

func (q *Queue[T]) run(task T) {
	err := q.worker(q.ctx, task, q)

	if err != nil && q.onError != nil && q.ctx.Err() == nil {
		// The error callback may re-enqueue the task, so it must run
		// before this slot is released.
		q.onError(q.ctx, err, task, q)
	}

	q.mu.Lock()
	q.pending--
	q.dispatchLocked()
	q.notifyIdleLocked()
	q.mu.Unlock()
}

// notifyIdleLocked wakes OnIdle waiters once the queue drains.
// Callers must hold q.mu.
func (q *Queue[T]) notifyIdleLocked() {
	if q.idleCh != nil && len(q.heap) == 0 && q.pending == 0 {
		close(q.idleCh)
		q.idleCh = nil
	}
}

type item[T any] struct {
	task     T
	priority int64
	seq      uint64
}

type taskHeap[T any] []*item[T]

func (h taskHeap[T]) Len() int { return len(h) }

func (h taskHeap[T]) Less(a, b int) bool {
	if h[a].priority != h[b].priority {
		return h[a].priority > h[b].priority
	}
	return h[a].seq < h[b].seq
}

func (h taskHeap[T]) Swap(a, b int) { h[a], h[b] = h[b], h[a] }

func (h *taskHeap[T]) Push(x any) {
	*h = append(*h, x.(*item[T]))
}

func (h *taskHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
