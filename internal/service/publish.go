package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omarreid/syndicate/internal/config"
	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/service/publisher"
	"github.com/omarreid/syndicate/internal/service/publisher/mastodon"
	"github.com/omarreid/syndicate/internal/service/publisher/webhook"
	"github.com/omarreid/syndicate/internal/store"
)

// PublishService is the surface the HTTP layer talks to: task lifecycle,
// schedule management and immediate publishing. Scheduled and immediate
// paths converge on the same orchestrator.
type PublishService struct {
	logger       *zap.Logger
	config       *config.Config
	tasks        store.TaskStore
	jobs         store.JobStore
	manager      *publisher.Manager
	orchestrator *Orchestrator
	monitoring   *MonitoringService
}

func NewPublishService(cfg *config.Config, tasks store.TaskStore, jobs store.JobStore, connections store.ConnectionStore, monitoring *MonitoringService, logger *zap.Logger) (*PublishService, error) {
	svc := &PublishService{
		logger:     logger,
		config:     cfg,
		tasks:      tasks,
		jobs:       jobs,
		manager:    publisher.NewManager(logger),
		monitoring: monitoring,
	}

	svc.registerPublishers()

	workflow, err := NewWorkflow(tasks, connections, svc.manager, logger)
	if err != nil {
		return nil, err
	}
	svc.orchestrator = NewOrchestrator(tasks, workflow, logger)

	return svc, nil
}

func (s *PublishService) registerPublishers() {
	if s.config.Publisher.Mastodon.Enabled {
		pub := mastodon.New(s.logger)
		if err := s.manager.Register(pub); err != nil {
			s.logger.Error("Failed to register Mastodon publisher", zap.Error(err))
		} else {
			s.manager.SetConfig(pub.Platform(), publisher.Config{
				PlatformName: pub.Platform(),
				Enabled:      true,
			})
			s.logger.Info("Mastodon publisher registered")
		}
	}

	if s.config.Publisher.Webhook.Enabled {
		pub := webhook.New(s.logger)
		if err := s.manager.Register(pub); err != nil {
			s.logger.Error("Failed to register webhook publisher", zap.Error(err))
		} else {
			s.manager.SetConfig(pub.Platform(), publisher.Config{
				PlatformName: pub.Platform(),
				Enabled:      true,
			})
			s.logger.Info("Webhook publisher registered")
		}
	}
}

// Orchestrator exposes the execution entry point for the scheduler wiring.
func (s *PublishService) Orchestrator() *Orchestrator { return s.orchestrator }

// AvailablePlatforms returns the registered platform names.
func (s *PublishService) AvailablePlatforms() []string { return s.manager.Platforms() }

// CreateTaskInput is the authoring payload for a new task.
type CreateTaskInput struct {
	Title     string          `json:"title"`
	Owner     string          `json:"owner" binding:"required"`
	Content   json.RawMessage `json:"content" binding:"required"`
	Platforms []string        `json:"platforms" binding:"required,min=1"`
}

func (s *PublishService) CreateTask(ctx context.Context, input CreateTaskInput) (*models.Task, error) {
	task := &models.Task{
		Title:     input.Title,
		Owner:     input.Owner,
		Content:   string(input.Content),
		Platforms: models.StringArray(input.Platforms),
		Status:    models.StatusDraft,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("Task created",
		zap.String("task_id", task.ID),
		zap.Strings("platforms", input.Platforms))
	return task, nil
}

func (s *PublishService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.tasks.Load(ctx, taskID)
}

func (s *PublishService) ListTasks(ctx context.Context) ([]models.Task, error) {
	return s.tasks.List(ctx)
}

// SubmitTask moves a draft into review.
func (s *PublishService) SubmitTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.transition(ctx, taskID, models.StatusPendingApproval)
}

// ApproveTask clears a task for scheduling or immediate publish.
func (s *PublishService) ApproveTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.transition(ctx, taskID, models.StatusApproved)
}

func (s *PublishService) transition(ctx context.Context, taskID string, to models.TaskStatus) (*models.Task, error) {
	task, err := s.tasks.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateTransition(task.Status, to); err != nil {
		return nil, err
	}
	task.Status = to
	if err := s.tasks.Save(ctx, task, task.Version); err != nil {
		return nil, err
	}
	return task, nil
}

// SchedulePublish records schedule intent: the task enters scheduled and a
// durable job row is written. Re-scheduling replaces the prior firing time.
// A failed task re-enters scheduled here, which is the retry path.
func (s *PublishService) SchedulePublish(ctx context.Context, taskID string, runAt time.Time) (*models.ScheduledJob, error) {
	task, err := s.tasks.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	prevStatus := task.Status
	prevScheduledFor := task.ScheduledFor

	if task.Status != models.StatusScheduled {
		if err := models.ValidateTransition(task.Status, models.StatusScheduled); err != nil {
			return nil, err
		}
		task.Status = models.StatusScheduled
	}
	task.ScheduledFor = &runAt
	if err := s.tasks.Save(ctx, task, task.Version); err != nil {
		return nil, err
	}

	job, err := s.jobs.Schedule(ctx, taskID, runAt, store.ScheduleOptions{
		MisfireGrace: s.misfireGrace(),
		Coalesce:     true,
		MaxInstances: 1,
	})
	if err != nil {
		// No job row was written; put the task back the way it was so it
		// does not sit in scheduled with nothing due to fire.
		task.Status = prevStatus
		task.ScheduledFor = prevScheduledFor
		if restoreErr := s.tasks.Save(ctx, task, task.Version); restoreErr != nil {
			s.logger.Error("Failed to restore task after job write failure",
				zap.String("task_id", taskID),
				zap.Error(restoreErr))
		}
		return nil, err
	}

	s.logger.Info("Publish scheduled",
		zap.String("task_id", taskID),
		zap.String("job_id", job.ID),
		zap.Time("run_at", runAt))
	return job, nil
}

// CancelScheduled removes the pending job and cancels the task. An
// execution already in flight runs to completion; only future firings are
// prevented.
func (s *PublishService) CancelScheduled(ctx context.Context, taskID string) error {
	if err := s.jobs.Cancel(ctx, taskID); err != nil {
		return err
	}

	task, err := s.tasks.Load(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.StatusScheduled {
		return nil
	}
	if err := models.ValidateTransition(task.Status, models.StatusCancelled); err != nil {
		return err
	}
	task.Status = models.StatusCancelled
	task.ScheduledFor = nil
	if err := s.tasks.Save(ctx, task, task.Version); err != nil {
		return err
	}

	s.logger.Info("Scheduled publish cancelled", zap.String("task_id", taskID))
	return nil
}

func (s *PublishService) ListJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	return s.jobs.List(ctx)
}

// ExecuteNow runs the publish pipeline immediately, the same entry point the
// scheduler uses for deferred jobs.
func (s *PublishService) ExecuteNow(ctx context.Context, taskID string) (*ExecutionReport, error) {
	report, err := s.orchestrator.Execute(ctx, taskID)
	if err != nil {
		_ = s.monitoring.RecordError("ERROR", "publisher", "Immediate publish failed", err.Error(),
			WithTask(taskID))
		return nil, err
	}

	for _, result := range report.Platforms {
		metric := "publish_success"
		if result.Status == models.OutcomeFailure {
			metric = "publish_failure"
			_ = s.monitoring.RecordError("ERROR", "publisher",
				fmt.Sprintf("Failed to publish to %s", result.Platform), result.Error,
				WithTask(taskID),
				WithPlatform(result.Platform))
		}
		_ = s.monitoring.RecordMetric(metric, "counter", 1, map[string]interface{}{
			"platform": result.Platform,
			"task_id":  taskID,
		})
	}

	return report, nil
}

func (s *PublishService) misfireGrace() time.Duration {
	grace, err := time.ParseDuration(s.config.Scheduler.MisfireGrace)
	if err != nil || grace <= 0 {
		return models.DefaultMisfireGrace
	}
	return grace
}
