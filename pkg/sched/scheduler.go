package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PolyPaper/pkg/logger"
)

// JobStats is a point-in-time view of one job's run history.
type JobStats struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Runs         uint64        `json:"runs"`
	Errors       uint64        `json:"errors"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

type jobState struct {
	job          Job
	runs         uint64
	errors       uint64
	running      bool
	lastRun      time.Time
	lastDuration time.Duration
	lastError    string
}

// Scheduler runs registered jobs concurrently, each on its own cadence. Jobs
// never depend on one another completing within the same tick; each reads the
// latest published output of its upstream component.
type Scheduler struct {
	logger *logger.Logger

	mu        sync.RWMutex
	order     []string
	jobs      map[string]*jobState
	wg        sync.WaitGroup
	isRunning bool
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an empty scheduler.
func New(lgr *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: lgr,
		jobs:   make(map[string]*jobState),
		stopCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job. Registration after Start and duplicate names are
// rejected.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler already running")
	}
	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job already registered: %s", job.Name())
	}

	s.jobs[job.Name()] = &jobState{job: job}
	s.order = append(s.order, job.Name())
	s.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.Duration("interval", job.Interval()))
	return nil
}

// Start launches one loop per registered job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.isRunning = true
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	for _, name := range names {
		s.mu.RLock()
		st := s.jobs[name]
		s.mu.RUnlock()

		s.wg.Add(1)
		go s.runLoop(st)
	}

	s.logger.Info("scheduler started", logger.Int("jobs", len(names)))
	return nil
}

// RunOnce triggers a single named run outside the regular cadence.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.RLock()
	st, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("no job registered: %s", name)
	}
	return s.execute(ctx, st)
}

// Stop drains the scheduler: no new ticks start, running jobs get until ctx
// expires to finish, then they are cancelled and abandoned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.logger.Info("stopping scheduler...")
	close(s.stopCh)
	s.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("timeout waiting for jobs, abandoning in-flight runs", logger.Error(ctx.Err()))
		return fmt.Errorf("drain timeout: %w", ctx.Err())
	case <-doneCh:
		s.cancel()
		s.logger.Info("scheduler stopped gracefully")
		return nil
	}
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Stats returns per-job run statistics in registration order.
func (s *Scheduler) Stats() []JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStats, 0, len(s.order))
	for _, name := range s.order {
		st := s.jobs[name]
		out = append(out, JobStats{
			Name:         name,
			Interval:     st.job.Interval(),
			Runs:         st.runs,
			Errors:       st.errors,
			Running:      st.running,
			LastRun:      st.lastRun,
			LastDuration: st.lastDuration,
			LastError:    st.lastError,
		})
	}
	return out
}

func (s *Scheduler) runLoop(st *jobState) {
	defer s.wg.Done()

	// First run fires immediately so fresh processes do not idle a full
	// interval before collecting anything.
	if err := s.execute(s.ctx, st); err != nil {
		s.logger.Error("job run failed", logger.String("job", st.job.Name()), logger.Error(err))
	}

	interval := st.job.Interval()
	if interval <= 0 {
		return // one-shot
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.execute(s.ctx, st); err != nil {
				s.logger.Error("job run failed", logger.String("job", st.job.Name()), logger.Error(err))
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, st *jobState) error {
	s.mu.Lock()
	if st.running {
		s.mu.Unlock()
		return fmt.Errorf("job still running: %s", st.job.Name())
	}
	st.running = true
	s.mu.Unlock()

	start := time.Now()
	err := st.job.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	st.running = false
	st.runs++
	st.lastRun = start
	st.lastDuration = elapsed
	if err != nil {
		st.errors++
		st.lastError = err.Error()
	} else {
		st.lastError = ""
	}
	s.mu.Unlock()

	return err
}
