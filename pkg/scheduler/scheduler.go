// Package scheduler runs named jobs on interval and calendar triggers.
// It keeps jobs in a min-heap by next fire time and dispatches from a
// single ticker loop; job bodies run in their own goroutines with
// per-job single-instance coalescing and misfire grace windows.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMisfireGrace applies to jobs that do not set their own window.
const DefaultMisfireGrace = 5 * time.Minute

// defaultTick is the dispatch loop resolution.
const defaultTick = time.Second

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrDuplicateJob   = errors.New("job id already registered")
	ErrInvalidJob     = errors.New("job needs an id, a trigger, and a run function")
)

// JobEvent reports one job invocation outcome to the listener.
type JobEvent struct {
	JobID   string
	Name    string
	Success bool
	Err     error
	FiredAt time.Time
}

// Listener receives job events. It is called from job goroutines and
// must be safe for concurrent use.
type Listener func(JobEvent)

// Job is one scheduled unit of work.
type Job struct {
	ID           string
	Name         string
	Trigger      Trigger
	Run          func(ctx context.Context) error
	MisfireGrace time.Duration

	nextFire time.Time
	index    int
	running  atomic.Bool
}

// JobStatus is a point-in-time snapshot for the status surface.
type JobStatus struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	NextFire time.Time `json:"next_fire"`
	Running  bool      `json:"running"`
}

// Scheduler owns the job set and the dispatch loop.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	queue    jobQueue
	listener Listener
	paused   bool
	running  bool

	stopCh chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	// tick and now are swappable in tests.
	tick time.Duration
	now  func() time.Time
}

// New creates a stopped scheduler. listener may be nil.
func New(listener Listener) *Scheduler {
	return &Scheduler{
		jobs:     make(map[string]*Job),
		listener: listener,
		tick:     defaultTick,
		now:      time.Now,
	}
}

// AddJob registers a job. Jobs may be added before or between runs;
// adding while running schedules the job from now.
func (s *Scheduler) AddJob(job *Job) error {
	if job == nil || job.ID == "" || job.Trigger == nil || job.Run == nil {
		return ErrInvalidJob
	}
	if job.MisfireGrace <= 0 {
		job.MisfireGrace = DefaultMisfireGrace
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	s.jobs[job.ID] = job
	if s.running {
		job.nextFire = job.Trigger.Next(s.now())
		heap.Push(&s.queue, job)
	}
	slog.Info("Job registered", "job_id", job.ID, "name", job.Name)
	return nil
}

// Start computes initial fire times and launches the dispatch loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.paused = false

	now := s.now()
	s.queue = s.queue[:0]
	for _, job := range s.jobs {
		job.nextFire = job.Trigger.Next(now)
		heap.Push(&s.queue, job)
	}

	s.running = true
	go s.loop(s.stopCh, s.done)

	slog.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts dispatch and waits for in-flight jobs. If ctx expires
// before they finish, their context is cancelled and the wait resumes.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	cancel := s.cancel
	s.mu.Unlock()

	<-done

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		slog.Warn("Jobs still running at shutdown deadline, cancelling")
		cancel()
		<-finished
		err = ctx.Err()
	}
	cancel()

	slog.Info("Scheduler stopped")
	return err
}

// Pause suspends dispatch; the job list and fire times are retained.
// Jobs that come due while paused are subject to misfire grace on
// resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	slog.Info("Scheduler paused")
}

// Resume re-enables dispatch.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	slog.Info("Scheduler resumed")
}

// IsRunning reports whether the dispatch loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// JobStatuses snapshots every registered job.
func (s *Scheduler) JobStatuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		statuses = append(statuses, JobStatus{
			ID:       job.ID,
			Name:     job.Name,
			NextFire: job.nextFire,
			Running:  job.running.Load(),
		})
	}
	return statuses
}

func (s *Scheduler) loop(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

func (s *Scheduler) dispatchDue() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return
	}

	for s.queue.Len() > 0 {
		job := s.queue[0]
		if job.nextFire.After(now) {
			return
		}
		heap.Pop(&s.queue)

		firedAt := job.nextFire
		s.reschedule(job, now)

		if lag := now.Sub(firedAt); lag > job.MisfireGrace {
			slog.Warn("Job misfired beyond grace window, dropping run",
				"job_id", job.ID, "lag", lag, "grace", job.MisfireGrace)
			continue
		}

		if !job.running.CompareAndSwap(false, true) {
			slog.Info("Previous invocation still running, coalescing", "job_id", job.ID)
			continue
		}

		s.wg.Add(1)
		go s.runJob(job, firedAt)
	}
}

// reschedule advances the job past now, coalescing any backlog into a
// single future fire, and pushes it back on the queue.
func (s *Scheduler) reschedule(job *Job, now time.Time) {
	next := job.Trigger.Next(job.nextFire)
	for !next.After(now) {
		next = job.Trigger.Next(next)
	}
	job.nextFire = next
	heap.Push(&s.queue, job)
}

func (s *Scheduler) runJob(job *Job, firedAt time.Time) {
	defer s.wg.Done()
	defer job.running.Store(false)

	slog.Info("Job starting", "job_id", job.ID, "name", job.Name)
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		err = job.Run(s.ctx)
	}()

	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Job failed", "job_id", job.ID, "elapsed", elapsed, "error", err)
	} else {
		slog.Info("Job finished", "job_id", job.ID, "elapsed", elapsed)
	}

	if s.listener != nil {
		s.listener(JobEvent{
			JobID:   job.ID,
			Name:    job.Name,
			Success: err == nil,
			Err:     err,
			FiredAt: firedAt,
		})
	}
}

// jobQueue is a min-heap of jobs by next fire time.
type jobQueue []*Job

func (q jobQueue) Len() int            { return len(q) }
func (q jobQueue) Less(i, j int) bool  { return q[i].nextFire.Before(q[j].nextFire) }
func (q jobQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *jobQueue) Push(x any)         { j := x.(*Job); j.index = len(*q); *q = append(*q, j) }
func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return job
}
