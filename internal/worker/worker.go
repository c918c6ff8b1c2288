package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/lock"
	"github.com/DukeRupert/lukaut-approvals/internal/metrics"
	"github.com/robfig/cron/v3"
)

var (
	// ErrLeaseHeld is returned by RunNow when another holder owns the job's lease.
	ErrLeaseHeld = errors.New("lease held by another instance")

	ErrUnknownJob = errors.New("job not registered")
)

// Scheduler runs registered jobs on cron schedules. Every run takes a
// named lease first so that replicas sharing a Locker never overlap.
type Scheduler struct {
	cron   *cron.Cron
	locker lock.Locker
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]Job

	// ctx is canceled by Stop so in-flight runs see shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler with the given configuration.
// Register jobs, then call Start. Stop waits for running jobs.
func New(config Config, locker lock.Locker, logger *slog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(config.Location)),
		locker: locker,
		config: config,
		logger: logger,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Register schedules job on a standard five-field cron spec.
// Job names must be unique.
func (s *Scheduler) Register(spec string, job Job) error {
	name := job.Name()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	// run logs and counts its own outcome.
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.jobs[name] = job
	s.logger.Debug("Registered job", "job", name, "spec", spec)
	return nil
}

// Start begins firing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("Scheduler started", "jobs", n, "location", s.config.Location.String())
}

// Stop prevents new runs, cancels in-flight ones and waits for them to
// return. It respects the configured ShutdownTimeout.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("Scheduler shutdown timeout exceeded, some jobs may still be running")
	}
}

// RunNow runs a registered job immediately under the same lease, timeout
// and metrics as a scheduled tick.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.run(ctx, job)
}

// run executes one leased pass of job.
func (s *Scheduler) run(ctx context.Context, job Job) (err error) {
	name := job.Name()
	logger := s.logger.With("job", name)

	release, ok, err := s.locker.Acquire(ctx, name, s.config.LeaseTTL)
	if err != nil {
		logger.Error("Failed to acquire lease", "error", err)
		metrics.JobLeaseFailed(name)
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		logger.Info("Lease held elsewhere, skipping run")
		metrics.JobSkipped(name)
		return ErrLeaseHeld
	}
	defer func() {
		// The run context may already be canceled; releasing must still reach the locker.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := release(releaseCtx); rerr != nil {
			logger.Warn("Failed to release lease", "error", rerr)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	metrics.JobStarted(name)
	logger.Info("Running job")

	defer func() {
		if r := recover(); r != nil {
			err = NewPermanentError(fmt.Errorf("job %s panicked: %v", name, r))
		}

		duration := time.Since(start)
		if err != nil {
			metrics.JobFailed(name, duration)
			logger.Error("Job failed", "error", err, "duration", duration, "permanent", IsPermanent(err))
			return
		}
		metrics.JobCompleted(name, duration)
		logger.Info("Job completed", "duration", duration)
	}()

	return job.Run(jobCtx)
}
