// Package lifecycle owns the project state machine and the cooperative
// cancel/pause protocol the running crawl consults at its checkpoints.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Signal carries the advisory cancel/pause flags for one project run. It never
// kills the run; the crawl polls Cancelled and blocks in Checkpoint at defined
// suspension points.
type Signal struct {
	cancelled atomic.Bool

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewSignal returns a Signal in the running (not paused, not cancelled) state.
func NewSignal() *Signal {
	ch := make(chan struct{})
	close(ch)
	return &Signal{resumed: ch}
}

// RequestCancel flips the advisory cancel flag and releases any task blocked
// on a pause so it can observe the cancellation.
func (s *Signal) RequestCancel() {
	s.cancelled.Store(true)
	s.Resume()
}

// Cancelled reports whether a cancel has been requested.
func (s *Signal) Cancelled() bool {
	return s.cancelled.Load()
}

// RequestPause makes subsequent Checkpoint calls block until Resume.
func (s *Signal) RequestPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.resumed = make(chan struct{})
}

// Resume releases every task blocked in Checkpoint.
func (s *Signal) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resumed)
}

// Paused reports whether a pause is currently requested.
func (s *Signal) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// ErrCancelled is returned by Checkpoint once a cancel has been observed.
var ErrCancelled = fmt.Errorf("run cancelled")

// Checkpoint is called at task boundaries. It returns ErrCancelled if a cancel
// was requested, blocks (without spinning) while paused, and returns the
// context error if ctx finishes first.
func (s *Signal) Checkpoint(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Cancelled() {
			return ErrCancelled
		}
		s.mu.Lock()
		if !s.paused {
			s.mu.Unlock()
			return nil
		}
		ch := s.resumed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
