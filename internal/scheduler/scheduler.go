// Package scheduler owns one ordered job queue per project, enforcing
// single-flight execution within a project, retry with backoff across run
// failures, and graceful drain on shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
	"github.com/leadscout/leadscout/internal/metrics"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("scheduler shutting down")

// Runner executes one project run under the given signal. It returns the
// number of results persisted during the run; cancellation observed through
// sig is not an error.
type Runner interface {
	Run(ctx context.Context, job leads.QueueJob, sig *lifecycle.Signal) (persisted int64, err error)
}

// Scheduler fans submitted projects out to per-project queues. Each queue is
// drained by a single goroutine, so one project's backlog can never starve
// another and at most one crawl per project is active at any instant.
type Scheduler struct {
	store    leads.ResultStore
	tracker  *lifecycle.Tracker
	registry *lifecycle.Registry
	runner   Runner
	policy   *RetryPolicy
	ids      leads.IDGenerator
	clock    leads.Clock
	logger   *zap.Logger

	mu     sync.Mutex
	queues map[string]*projectQueue
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Scheduler. A nil policy falls back to the defaults; a nil
// logger is tolerated.
func New(
	store leads.ResultStore,
	tracker *lifecycle.Tracker,
	registry *lifecycle.Registry,
	runner Runner,
	policy *RetryPolicy,
	ids leads.IDGenerator,
	clock leads.Clock,
	logger *zap.Logger,
) *Scheduler {
	if policy == nil {
		policy = NewRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		tracker:  tracker,
		registry: registry,
		runner:   runner,
		policy:   policy,
		ids:      ids,
		clock:    clock,
		logger:   logger,
		queues:   make(map[string]*projectQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit enqueues one run for the project. The project's queue (and its drain
// goroutine) is created on first submission.
func (s *Scheduler) Submit(projectID string, priority int) (leads.QueueJob, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return leads.QueueJob{}, fmt.Errorf("job id: %w", err)
	}
	job := leads.QueueJob{
		ID:        id,
		ProjectID: projectID,
		Priority:  priority,
		Submitted: s.now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return leads.QueueJob{}, ErrShuttingDown
	}
	q, ok := s.queues[projectID]
	if !ok {
		q = newProjectQueue()
		s.queues[projectID] = q
		s.wg.Add(1)
		go s.drain(projectID, q)
	}
	s.mu.Unlock()

	q.push(job)
	s.logger.Debug("job submitted",
		zap.String("project_id", projectID),
		zap.String("job_id", job.ID),
		zap.Int("priority", priority),
	)
	return job, nil
}

// Cancel removes any waiting jobs for the project outright and, when a run is
// active, flips the advisory flags the crawl observes at its checkpoints. The
// running crawl is responsible for unwinding; nothing is killed.
func (s *Scheduler) Cancel(ctx context.Context, projectID string) error {
	if q := s.lookupQueue(projectID); q != nil {
		if removed := q.clearWaiting(); removed > 0 {
			s.logger.Info("waiting jobs removed on cancel",
				zap.String("project_id", projectID),
				zap.Int("removed", removed),
			)
		}
	}
	// The flag is persisted even when no signal is attached yet: a job already
	// popped from the queue but not yet registered re-reads the project at
	// startup and cancels itself from the stored flag.
	if err := s.store.SetCancelRequested(ctx, projectID, true); err != nil {
		return fmt.Errorf("cancel %s: %w", projectID, err)
	}
	if sig := s.registry.Lookup(projectID); sig != nil {
		sig.RequestCancel()
	}
	return nil
}

// Pending reports whether the project has an active run or waiting jobs. A
// non-terminal project with no pending work was abandoned by a shutdown or
// crash and needs a fresh submission to run again.
func (s *Scheduler) Pending(projectID string) bool {
	if s.registry.Lookup(projectID) != nil {
		return true
	}
	if q := s.lookupQueue(projectID); q != nil && q.pending() > 0 {
		return true
	}
	return false
}

// Pause asks the active run to block at its next checkpoint. The project
// stays Running while paused.
func (s *Scheduler) Pause(ctx context.Context, projectID string) error {
	if err := s.store.SetPauseRequested(ctx, projectID, true); err != nil {
		return fmt.Errorf("pause %s: %w", projectID, err)
	}
	if sig := s.registry.Lookup(projectID); sig != nil {
		sig.RequestPause()
	}
	return nil
}

// Resume releases a paused run.
func (s *Scheduler) Resume(ctx context.Context, projectID string) error {
	if err := s.store.SetPauseRequested(ctx, projectID, false); err != nil {
		return fmt.Errorf("resume %s: %w", projectID, err)
	}
	if sig := s.registry.Lookup(projectID); sig != nil {
		sig.Resume()
	}
	return nil
}

// Shutdown closes every project queue and waits for the drain goroutines to
// exit. Waiting jobs are abandoned, not executed; the in-flight run observes
// the cancelled context and unwinds without finalizing, so its project is
// expected to be re-submitted.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	queues := make([]*projectQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) drain(projectID string, q *projectQueue) {
	defer s.wg.Done()
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		s.runJob(s.ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job leads.QueueJob) {
	p, err := s.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		s.logger.Error("load project failed",
			zap.String("project_id", job.ProjectID),
			zap.Error(err),
		)
		return
	}

	sig := s.registry.Attach(p.ProjectID)
	defer s.registry.Detach(p.ProjectID)
	if p.CancelRequested {
		sig.RequestCancel()
	}
	if p.PauseRequested {
		sig.RequestPause()
	}

	if err := s.tracker.Start(ctx, p); err != nil {
		s.logger.Error("start run failed",
			zap.String("project_id", p.ProjectID),
			zap.Error(err),
		)
		return
	}
	metrics.ActiveProjectsAdd(1)
	defer metrics.ActiveProjectsAdd(-1)

	var (
		persisted int64
		runErr    error
	)
	for attempt := 0; ; attempt++ {
		n, err := s.runner.Run(ctx, job, sig)
		persisted += n
		runErr = err
		if err == nil {
			break
		}
		if !s.policy.ShouldRetry(err, attempt+1) {
			break
		}
		s.logger.Warn("run attempt failed, retrying",
			zap.String("project_id", p.ProjectID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.policy.Backoff(attempt)):
		}
	}
	if ctx.Err() != nil {
		s.logger.Info("shutdown during run, abandoning",
			zap.String("project_id", p.ProjectID),
		)
		return
	}

	status, err := s.tracker.Finalize(ctx, p, sig, persisted, runErr)
	if err != nil {
		s.logger.Error("finalize failed",
			zap.String("project_id", p.ProjectID),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveProjectRun(string(status))
}

func (s *Scheduler) lookupQueue(projectID string) *projectQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[projectID]
}

func (s *Scheduler) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

// projectQueue is one project's waiting list, ordered by priority (higher
// first) then submission order.
type projectQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiting []leads.QueueJob
	closed  bool
}

func newProjectQueue() *projectQueue {
	q := &projectQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *projectQueue) push(job leads.QueueJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.waiting = append(q.waiting, job)
	sort.SliceStable(q.waiting, func(i, j int) bool {
		return q.waiting[i].Priority > q.waiting[j].Priority
	})
	q.cond.Signal()
}

// next blocks until a job is available or the queue closes. Jobs still
// waiting at close are abandoned.
func (q *projectQueue) next() (leads.QueueJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.waiting) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return leads.QueueJob{}, false
	}
	job := q.waiting[0]
	q.waiting = q.waiting[1:]
	return job, true
}

func (q *projectQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

func (q *projectQueue) clearWaiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.waiting)
	q.waiting = nil
	return n
}

func (q *projectQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
