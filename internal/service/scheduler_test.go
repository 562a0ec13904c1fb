package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omarreid/syndicate/internal/config"
	"github.com/omarreid/syndicate/internal/models"
)

func testSchedulerConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		Enabled:         true,
		PollInterval:    "15s",
		MisfireGrace:    "1h",
		RetryBackoff:    "30s",
		MaxRetryBackoff: "15m",
	}
}

func newTestJob(taskID string, nextRun time.Time) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:               uuid.NewString(),
		TaskID:           taskID,
		NextRunTime:      nextRun,
		MisfireGraceSecs: 3600,
		Coalesce:         true,
		MaxInstances:     1,
	}
}

func TestTickExecutesDueJobWithinGrace(t *testing.T) {
	now := time.Now().UTC()
	task := newTestTask(models.StatusScheduled, "mastodon")
	job := newTestJob(task.ID, now.Add(-30*time.Minute))

	tasks := newFakeTaskStore(task)
	jobs := newFakeJobStore(job)
	executor := newFakeExecutor()
	s := NewScheduler(testSchedulerConfig(), zap.NewNop(), jobs, tasks, executor, nil)

	s.Tick(context.Background(), now)
	waitFor(t, func() bool { return !jobs.has(job.ID) })

	assert.Equal(t, 1, executor.callsFor(task.ID))
}

func TestTickMarksOverdueJobMissed(t *testing.T) {
	now := time.Now().UTC()
	task := newTestTask(models.StatusScheduled, "mastodon")
	job := newTestJob(task.ID, now.Add(-2*time.Hour))

	tasks := newFakeTaskStore(task)
	jobs := newFakeJobStore(job)
	executor := newFakeExecutor()
	s := NewScheduler(testSchedulerConfig(), zap.NewNop(), jobs, tasks, executor, nil)

	s.Tick(context.Background(), now)

	assert.Equal(t, 0, executor.callsFor(task.ID), "missed job must not run")
	assert.False(t, jobs.has(job.ID))
	assert.Equal(t, models.StatusFailed, tasks.get(task.ID).Status)
}

func TestTicksDoNotDoubleFireSlowJob(t *testing.T) {
	now := time.Now().UTC()
	task := newTestTask(models.StatusScheduled, "mastodon")
	job := newTestJob(task.ID, now.Add(-time.Minute))

	tasks := newFakeTaskStore(task)
	jobs := newFakeJobStore(job)
	executor := newFakeExecutor()
	executor.release = make(chan struct{})
	s := NewScheduler(testSchedulerConfig(), zap.NewNop(), jobs, tasks, executor, nil)

	// Two ticks race on the same due job while the first execution is
	// still in flight.
	s.Tick(context.Background(), now)
	waitFor(t, func() bool { return executor.callsFor(task.ID) == 1 })
	s.Tick(context.Background(), now.Add(15*time.Second))

	close(executor.release)
	waitFor(t, func() bool { return !jobs.has(job.ID) })

	assert.Equal(t, 1, executor.callsFor(task.ID), "max_instances=1 must hold across ticks")
}

func TestStoreOutageReschedulesWithBackoff(t *testing.T) {
	now := time.Now().UTC()
	task := newTestTask(models.StatusScheduled, "mastodon")
	job := newTestJob(task.ID, now.Add(-time.Minute))

	tasks := newFakeTaskStore(task)
	jobs := newFakeJobStore(job)
	executor := newFakeExecutor()
	executor.err = &models.StoreUnavailableError{Op: "save task", Err: assert.AnError}
	s := NewScheduler(testSchedulerConfig(), zap.NewNop(), jobs, tasks, executor, nil)

	s.Tick(context.Background(), now)
	waitFor(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.rescheduls) == 1
	})

	// The job row survives with a future firing time.
	require.True(t, jobs.has(job.ID))
	jobs.mu.Lock()
	rescheduledAt := jobs.rescheduls[0]
	jobs.mu.Unlock()
	assert.True(t, rescheduledAt.After(now), "retry must be delayed, not immediate")
}

func TestTerminalFailureRemovesJob(t *testing.T) {
	now := time.Now().UTC()
	task := newTestTask(models.StatusCancelled, "mastodon")
	job := newTestJob(task.ID, now.Add(-time.Minute))

	tasks := newFakeTaskStore(task)
	jobs := newFakeJobStore(job)
	executor := newFakeExecutor()
	executor.err = &models.InvalidStateError{TaskID: task.ID, Status: task.Status}
	s := NewScheduler(testSchedulerConfig(), zap.NewNop(), jobs, tasks, executor, nil)

	s.Tick(context.Background(), now)
	waitFor(t, func() bool { return !jobs.has(job.ID) })

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Empty(t, jobs.rescheduls, "unretryable failure must not reschedule")
}

func TestTickSurvivesJobStoreOutage(t *testing.T) {
	tasks := newFakeTaskStore()
	jobs := newFakeJobStore()
	jobs.dueErr = &models.StoreUnavailableError{Op: "due jobs", Err: assert.AnError}
	executor := newFakeExecutor()
	s := NewScheduler(testSchedulerConfig(), zap.NewNop(), jobs, tasks, executor, nil)

	assert.NotPanics(t, func() {
		s.Tick(context.Background(), time.Now().UTC())
	})
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	s := NewScheduler(testSchedulerConfig(), zap.NewNop(), newFakeJobStore(), newFakeTaskStore(), newFakeExecutor(), nil)

	assert.Equal(t, 30*time.Second, s.nextBackoff("job-1"))
	assert.Equal(t, time.Minute, s.nextBackoff("job-1"))
	assert.Equal(t, 2*time.Minute, s.nextBackoff("job-1"))
	for i := 0; i < 10; i++ {
		s.nextBackoff("job-1")
	}
	assert.Equal(t, 15*time.Minute, s.nextBackoff("job-1"))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
