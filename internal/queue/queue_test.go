package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueuePutGetFIFO(t *testing.T) {
	t.Parallel()

	q := New[string]()
	if err := q.Put("a", "b", "c"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		task, err := q.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if task.Item != want || task.Order != uint64(i) {
			t.Fatalf("expected %s at %d, got %+v", want, i, task)
		}
	}
	if q.InFlight() != 3 {
		t.Fatalf("expected 3 in flight, got %d", q.InFlight())
	}
}

func TestQueueDrainedWhenIdle(t *testing.T) {
	t.Parallel()

	q := New[int]()
	if _, err := q.Get(context.Background()); !errors.Is(err, ErrDrained) {
		t.Fatalf("expected ErrDrained, got %v", err)
	}

	if err := q.Put(1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// A second consumer waits while the first task is in flight.
	result := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background())
		result <- err
	}()
	select {
	case err := <-result:
		t.Fatalf("Get() returned early with %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	q.Done()
	select {
	case err := <-result:
		if !errors.Is(err, ErrDrained) {
			t.Fatalf("expected ErrDrained, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released when the queue drained")
	}
}

func TestQueueChildPutWakesWaiter(t *testing.T) {
	t.Parallel()

	q := New[string]()
	if err := q.Put("parent"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	result := make(chan Task[string], 1)
	go func() {
		task, err := q.Get(context.Background())
		if err == nil {
			result <- task
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Put("child"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	q.Done()

	select {
	case got := <-result:
		if got.Item != "child" || got.Order != 1 {
			t.Fatalf("unexpected task %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not receive the child task")
	}
}

func TestQueueCancelation(t *testing.T) {
	t.Parallel()

	q := New[int]()
	if err := q.Put(1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Get(ctx); err == nil || err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := New[int]()
	if err := q.Put(1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Get(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	}
	if err := q.Put(2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on Put, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
