package docview

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// queuePoster collects posted functions until the test runs them.
type queuePoster struct {
	queue []func()
}

func (q *queuePoster) Post(fn func()) { q.queue = append(q.queue, fn) }

func (q *queuePoster) runAll() {
	batch := q.queue
	q.queue = nil
	for _, fn := range batch {
		fn()
	}
}

func TestStepper_CoalescesProds(t *testing.T) {
	q := &queuePoster{}
	runs := 0
	s := NewStepper(q, func() { runs++ })

	for range 10 {
		s.Prod()
	}
	if len(q.queue) != 1 {
		t.Fatalf("posted %d runs, want 1", len(q.queue))
	}
	if !s.Pending() {
		t.Error("Pending = false after Prod")
	}
	q.runAll()
	if runs != 1 {
		t.Errorf("task ran %d times, want 1", runs)
	}
	if s.Pending() {
		t.Error("Pending = true after the run")
	}
}

func TestStepper_ProdDuringRunSchedulesOnce(t *testing.T) {
	q := &queuePoster{}
	runs := 0
	var s *Stepper
	s = NewStepper(q, func() {
		runs++
		if runs == 1 {
			s.Prod()
			s.Prod()
		}
	})

	s.Prod()
	q.runAll()
	if len(q.queue) != 1 {
		t.Fatalf("prods during the run posted %d runs, want 1", len(q.queue))
	}
	q.runAll()
	if runs != 2 {
		t.Errorf("task ran %d times, want 2", runs)
	}
	if len(q.queue) != 0 {
		t.Errorf("unexpected run queued")
	}
}

func TestFrameLoop_RunsQueuedWork(t *testing.T) {
	f := NewFrameLoop(time.Millisecond)
	var runs atomic.Int32
	done := make(chan struct{})
	s := NewStepper(f, func() {
		if runs.Add(1) == 1 {
			close(done)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Prod()
	s.Prod()
	go f.Run(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("frame loop never ran the task")
	}
	cancel()
	if got := runs.Load(); got != 1 {
		t.Errorf("task ran %d times, want 1", got)
	}
}
