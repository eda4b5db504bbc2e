package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gobby-stack/gobby/internal/logging"
)

func TestSessionQueue_FIFOPerSession(t *testing.T) {
	q := newSessionQueue(time.Second, 0, logging.NewForTest())
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		if err := q.Submit("s", func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Do queues behind every Submit.
	if err := q.Do(context.Background(), "s", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 20 {
		t.Fatalf("ran %d jobs, want 20", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestSessionQueue_SessionsRunInParallel(t *testing.T) {
	q := newSessionQueue(time.Second, 0, logging.NewForTest())
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go q.Do(context.Background(), "slow", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Do(ctx, "fast", func(context.Context) error { return nil }); err != nil {
		t.Errorf("other session blocked behind slow one: %v", err)
	}
	close(release)
}

func TestSessionQueue_ReturnsJobError(t *testing.T) {
	q := newSessionQueue(time.Second, 0, logging.NewForTest())
	defer q.Close()

	boom := errors.New("boom")
	if err := q.Do(context.Background(), "s", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	err := q.Do(context.Background(), "s", func(context.Context) error { panic("bad") })
	if err == nil {
		t.Error("panic not reported as error")
	}
	// The worker survives a panic.
	if err := q.Do(context.Background(), "s", func(context.Context) error { return nil }); err != nil {
		t.Errorf("worker dead after panic: %v", err)
	}
}

func TestSessionQueue_CancelCurrent(t *testing.T) {
	q := newSessionQueue(time.Second, 0, logging.NewForTest())
	defer q.Close()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- q.Do(context.Background(), "s", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	if !q.CancelCurrent("s") {
		t.Fatal("no running job to cancel")
	}
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled job did not return")
	}
	if q.CancelCurrent("idle") {
		t.Error("cancelled a job on a session with no worker")
	}
}

func TestSessionQueue_SkipsExpiredJobs(t *testing.T) {
	q := newSessionQueue(time.Second, 0, logging.NewForTest())
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go q.Do(context.Background(), "s", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := q.Do(ctx, "s", func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	close(release)

	// Barrier: the expired job has been dequeued by now.
	if err := q.Do(context.Background(), "s", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("job ran after its context expired")
	}
}

func TestSessionQueue_IdleWorkerRetires(t *testing.T) {
	q := newSessionQueue(20*time.Millisecond, 0, logging.NewForTest())
	defer q.Close()

	if err := q.Do(context.Background(), "s", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		n := len(q.workers)
		q.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	q.mu.Lock()
	n := len(q.workers)
	q.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d workers still alive after idling", n)
	}
	if err := q.Do(context.Background(), "s", func(context.Context) error { return nil }); err != nil {
		t.Errorf("new worker not started: %v", err)
	}
}

func TestSessionQueue_ClosedRejectsWork(t *testing.T) {
	q := newSessionQueue(time.Second, 0, logging.NewForTest())
	q.Close()
	if err := q.Submit("s", func(context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}
