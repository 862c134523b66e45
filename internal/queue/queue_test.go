package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_ProcessesAllTasks(t *testing.T) {
	t.Parallel()

	var processed atomic.Int64

	q := New(Options[int]{
		Worker: func(_ context.Context, _ int, _ *Queue[int]) error {
			processed.Add(1)
			return nil
		},
		Concurrency: 4,
		AutoStart:   true,
	})
	q.Start(context.Background())

	for i := 0; i < 100; i++ {
		q.AddTask(i, int64(i))
	}

	require.NoError(t, q.OnIdle(context.Background()))
	require.Equal(t, int64(100), processed.Load())
	require.Zero(t, q.Size())
	require.Zero(t, q.Pending())
}

func TestQueue_PriorityOrder(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []int
	)

	q := New(Options[int]{
		Worker: func(_ context.Context, task int, _ *Queue[int]) error {
			mu.Lock()
			order = append(order, task)
			mu.Unlock()
			return nil
		},
		Concurrency: 1,
	})

	// Enqueue before starting so ordering is decided purely by priority.
	q.AddTask(3, 10)
	q.AddTask(1, 30)
	q.AddTask(2, 20)

	q.Start(context.Background())
	q.Resume()

	require.NoError(t, q.OnIdle(context.Background()))
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestQueue_EqualPriorityIsFIFO(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		order []int
	)

	q := New(Options[int]{
		Worker: func(_ context.Context, task int, _ *Queue[int]) error {
			mu.Lock()
			order = append(order, task)
			mu.Unlock()
			return nil
		},
		Concurrency: 1,
	})

	for i := 0; i < 10; i++ {
		q.AddTask(i, 5)
	}

	q.Start(context.Background())
	q.Resume()

	require.NoError(t, q.OnIdle(context.Background()))
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	var (
		current atomic.Int64
		peak    atomic.Int64
	)

	q := New(Options[int]{
		Worker: func(_ context.Context, _ int, _ *Queue[int]) error {
			cur := current.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			return nil
		},
		Concurrency: 3,
		AutoStart:   true,
	})
	q.Start(context.Background())

	for i := 0; i < 30; i++ {
		q.AddTask(i, 0)
	}

	require.NoError(t, q.OnIdle(context.Background()))
	require.LessOrEqual(t, peak.Load(), int64(3))
}

func TestQueue_OnErrorReEnqueue(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64

	q := New(Options[int]{
		Worker: func(_ context.Context, _ int, _ *Queue[int]) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
		Concurrency: 1,
		AutoStart:   true,
		OnError: func(_ context.Context, _ error, task int, q *Queue[int]) {
			q.AddTask(task, 0)
		},
	})
	q.Start(context.Background())

	q.AddTask(1, 0)

	require.NoError(t, q.OnIdle(context.Background()))
	require.Equal(t, int64(3), attempts.Load())
}

func TestQueue_PauseAndResume(t *testing.T) {
	t.Parallel()

	var processed atomic.Int64

	q := New(Options[int]{
		Worker: func(_ context.Context, _ int, _ *Queue[int]) error {
			processed.Add(1)
			return nil
		},
		Concurrency: 2,
	})
	q.Start(context.Background())

	q.AddTask(1, 0)
	q.AddTask(2, 0)

	time.Sleep(10 * time.Millisecond)
	require.Zero(t, processed.Load())
	require.Equal(t, 2, q.Size())

	q.Resume()
	require.NoError(t, q.OnIdle(context.Background()))
	require.Equal(t, int64(2), processed.Load())
}

func TestQueue_Clear(t *testing.T) {
	t.Parallel()

	q := New(Options[int]{
		Worker: func(_ context.Context, _ int, _ *Queue[int]) error {
			return nil
		},
		Concurrency: 1,
	})
	q.Start(context.Background())

	q.AddTask(1, 0)
	q.AddTask(2, 0)
	require.Equal(t, 2, q.Size())

	q.Clear()
	require.Zero(t, q.Size())
	require.NoError(t, q.OnIdle(context.Background()))
}

func TestQueue_OnIdleHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})

	q := New(Options[int]{
		Worker: func(_ context.Context, _ int, _ *Queue[int]) error {
			<-block
			return nil
		},
		Concurrency: 1,
		AutoStart:   true,
	})
	q.Start(context.Background())
	q.AddTask(1, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, q.OnIdle(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, q.OnIdle(context.Background()))
}

func TestQueue_WorkerSeesItselfPending(t *testing.T) {
	t.Parallel()

	var observed atomic.Int64

	q := New(Options[int]{
		Worker: func(_ context.Context, _ int, q *Queue[int]) error {
			observed.Store(int64(q.Pending()))
			return nil
		},
		Concurrency: 1,
		AutoStart:   true,
	})
	q.Start(context.Background())
	q.AddTask(1, 0)

	require.NoError(t, q.OnIdle(context.Background()))
	require.Equal(t, int64(1), observed.Load())
}
