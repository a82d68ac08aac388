package docview

import (
	"context"
	"sync"
	"time"
)

// Poster runs fn at some later point, typically on the next frame.
type Poster interface {
	Post(fn func())
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(fn func())

func (f PosterFunc) Post(fn func()) { f(fn) }

// Stepper coalesces requests to run task. However often Prod is called,
// at most one run is scheduled at a time.
type Stepper struct {
	poster Poster
	task   func()

	mu      sync.Mutex
	pending bool
}

func NewStepper(poster Poster, task func()) *Stepper {
	return &Stepper{poster: poster, task: task}
}

// Prod schedules task unless a run is already pending. The pending flag is
// cleared before task runs, so a Prod from inside task schedules one more run.
func (s *Stepper) Prod() {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = true
	s.mu.Unlock()

	s.poster.Post(func() {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
		s.task()
	})
}

// Pending reports whether a run is scheduled and has not started yet.
func (s *Stepper) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// FrameLoop is a Poster that runs queued functions once per tick on the
// goroutine calling Run.
type FrameLoop struct {
	interval time.Duration

	mu    sync.Mutex
	queue []func()
}

// NewFrameLoop ticks every interval, 60 Hz when interval is zero.
func NewFrameLoop(interval time.Duration) *FrameLoop {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &FrameLoop{interval: interval}
}

func (f *FrameLoop) Post(fn func()) {
	f.mu.Lock()
	f.queue = append(f.queue, fn)
	f.mu.Unlock()
}

// Run drains the queue on every tick until ctx is done. Functions posted
// while a frame runs wait for the next frame.
func (f *FrameLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		f.RunFrame()
	}
}

// RunFrame runs the functions queued so far.
func (f *FrameLoop) RunFrame() {
	f.mu.Lock()
	batch := f.queue
	f.queue = nil
	f.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}
