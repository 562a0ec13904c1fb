package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omarreid/syndicate/internal/config"
	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/store"
)

// Executor runs one publish execution. Satisfied by Orchestrator.
type Executor interface {
	Execute(ctx context.Context, taskID string) (*ExecutionReport, error)
}

// Scheduler is the single long-lived process that fires due jobs. Exactly
// one instance may run against a given job store; the HTTP tier scales
// horizontally, this does not. Deployments enforce that by enabling the
// scheduler on one process only.
type Scheduler struct {
	config   *config.SchedulerConfig
	logger   *zap.Logger
	jobs     store.JobStore
	tasks    store.TaskStore
	executor Executor
	events   *MonitoringService

	ticker *time.Ticker
	stopCh chan struct{}

	mu       sync.Mutex
	running  map[string]struct{}
	attempts map[string]int
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, jobs store.JobStore, tasks store.TaskStore, executor Executor, events *MonitoringService) *Scheduler {
	return &Scheduler{
		config:   cfg,
		logger:   logger,
		jobs:     jobs,
		tasks:    tasks,
		executor: executor,
		events:   events,
		stopCh:   make(chan struct{}),
		running:  make(map[string]struct{}),
		attempts: make(map[string]int),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.PollInterval)
	if err != nil {
		s.logger.Error("Invalid poll interval", zap.String("interval", s.config.PollInterval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("poll_interval", s.config.PollInterval))

	s.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case now := <-s.ticker.C:
				s.Tick(ctx, now)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}

// Tick fires every due job once. Store failures are logged and retried on
// the next tick; nothing here may crash the polling loop.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due, err := s.jobs.Due(ctx, now)
	if err != nil {
		s.logger.Error("Failed to query due jobs", zap.Error(err))
		return
	}

	for i := range due {
		job := due[i]

		if job.Misfired(now) {
			s.handleMisfire(ctx, &job, now)
			continue
		}

		// max_instances=1: a slow execution must not be triggered again by
		// a later tick.
		if !s.tryAcquire(job.ID) {
			continue
		}

		go s.runJob(ctx, job)
	}
}

func (s *Scheduler) tryAcquire(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[jobID]; busy {
		return false
	}
	s.running[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// handleMisfire marks an overdue job missed instead of running it stale.
func (s *Scheduler) handleMisfire(ctx context.Context, job *models.ScheduledJob, now time.Time) {
	missed := &models.MissedJobError{
		JobID:  job.ID,
		TaskID: job.TaskID,
		DueAt:  job.NextRunTime,
		Grace:  job.GracePeriod(),
	}
	s.logger.Warn("Job missed its firing window",
		zap.String("job_id", job.ID),
		zap.String("task_id", job.TaskID),
		zap.Time("due_at", job.NextRunTime),
		zap.Duration("overdue", now.Sub(job.NextRunTime)))

	_ = s.events.RecordError("WARN", "scheduler", "Scheduled publish missed", missed.Error(),
		WithTask(job.TaskID),
		WithJob(job.ID))

	if err := s.jobs.Remove(ctx, job.ID); err != nil {
		s.logger.Error("Failed to remove missed job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	s.failTask(ctx, job.TaskID, missed.Error())
}

func (s *Scheduler) failTask(ctx context.Context, taskID, reason string) {
	task, err := s.tasks.Load(ctx, taskID)
	if err != nil {
		s.logger.Error("Failed to load task for failure marking",
			zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if err := models.ValidateTransition(task.Status, models.StatusFailed); err != nil {
		return
	}
	task.Status = models.StatusFailed
	if err := s.tasks.Save(ctx, task, task.Version); err != nil {
		s.logger.Error("Failed to mark task failed",
			zap.String("task_id", taskID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (s *Scheduler) runJob(ctx context.Context, job models.ScheduledJob) {
	defer s.release(job.ID)

	start := time.Now()
	report, err := s.executor.Execute(ctx, job.TaskID)
	duration := time.Since(start)

	switch {
	case err == nil:
		s.clearAttempts(job.ID)
		if removeErr := s.jobs.Remove(ctx, job.ID); removeErr != nil {
			s.logger.Error("Failed to remove completed job",
				zap.String("job_id", job.ID), zap.Error(removeErr))
		}
		s.logger.Info("Scheduled publish completed",
			zap.String("job_id", job.ID),
			zap.String("task_id", job.TaskID),
			zap.String("status", string(report.Status)),
			zap.Duration("duration", duration))

	case models.IsStoreUnavailable(err):
		// Retryable: back off and leave a future firing in place.
		delay := s.nextBackoff(job.ID)
		s.logger.Warn("Publish attempt hit store outage, backing off",
			zap.String("job_id", job.ID),
			zap.String("task_id", job.TaskID),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if _, schedErr := s.jobs.Schedule(ctx, job.TaskID, time.Now().Add(delay), store.ScheduleOptions{
			MisfireGrace: job.GracePeriod(),
			Coalesce:     job.Coalesce,
			MaxInstances: job.MaxInstances,
		}); schedErr != nil {
			s.logger.Error("Failed to reschedule job after store outage",
				zap.String("job_id", job.ID), zap.Error(schedErr))
		}

	default:
		// InvalidState, Conflict, task gone: terminal for this job.
		s.clearAttempts(job.ID)
		s.logger.Error("Scheduled publish failed",
			zap.String("job_id", job.ID),
			zap.String("task_id", job.TaskID),
			zap.Error(err))
		_ = s.events.RecordError("ERROR", "scheduler", "Scheduled publish failed", err.Error(),
			WithTask(job.TaskID),
			WithJob(job.ID))
		if removeErr := s.jobs.Remove(ctx, job.ID); removeErr != nil {
			s.logger.Error("Failed to remove failed job",
				zap.String("job_id", job.ID), zap.Error(removeErr))
		}
	}
}

func (s *Scheduler) nextBackoff(jobID string) time.Duration {
	s.mu.Lock()
	s.attempts[jobID]++
	attempt := s.attempts[jobID]
	s.mu.Unlock()

	base, err := time.ParseDuration(s.config.RetryBackoff)
	if err != nil || base <= 0 {
		base = 30 * time.Second
	}
	max, err := time.ParseDuration(s.config.MaxRetryBackoff)
	if err != nil || max <= 0 {
		max = 15 * time.Minute
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		delay = max
	}
	return delay
}

func (s *Scheduler) clearAttempts(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, jobID)
}
