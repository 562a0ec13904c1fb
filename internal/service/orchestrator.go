package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/store"
)

// ExecutionReport itemizes one execution's per-platform outcomes. Mixed
// outcomes surface as published with the failures listed, never as an opaque
// total failure.
type ExecutionReport struct {
	TaskID    string                 `json:"task_id"`
	Status    models.TaskStatus      `json:"status"`
	Platforms []models.PublishResult `json:"platforms"`
}

// Orchestrator is the single entry point for publish execution. The
// immediate-publish HTTP path and the scheduler both call Execute; the
// trigger mechanism can change without touching execution logic.
type Orchestrator struct {
	tasks    store.TaskStore
	workflow *Workflow
	logger   *zap.Logger
}

func NewOrchestrator(tasks store.TaskStore, workflow *Workflow, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		tasks:    tasks,
		workflow: workflow,
		logger:   logger,
	}
}

// Execute publishes one task. A task in approved or scheduled starts a fresh
// run; a task left in publishing short of done resumes where the previous
// attempt stopped. Anything else fails fast with no side effects. The
// transition into publishing is guarded by the task's version, so a
// concurrent executor loses with ErrConflict instead of double-publishing.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) (*ExecutionReport, error) {
	task, err := o.tasks.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch {
	case task.Status == models.StatusPublishing && task.Checkpoint.Stage != models.StageDone:
		// Covers a blank checkpoint too: the transition and the initial
		// checkpoint go down in one write, but rows written before that was
		// the case resume from the start, where nothing has happened yet.
		o.logger.Info("Resuming interrupted publish execution",
			zap.String("task_id", task.ID),
			zap.String("stage", string(task.Checkpoint.Stage)))

	case models.IsPublishable(task.Status):
		if err := models.ValidateTransition(task.Status, models.StatusPublishing); err != nil {
			return nil, err
		}
		task.Status = models.StatusPublishing
		task.Checkpoint = models.NewCheckpoint(task.Platforms)
		task.PublishResults = models.ResultMap{}
		if err := o.tasks.Save(ctx, task, task.Version); err != nil {
			return nil, err
		}

	default:
		return nil, &models.InvalidStateError{TaskID: task.ID, Status: task.Status}
	}

	task, err = o.workflow.Run(ctx, task)
	if err != nil {
		return nil, err
	}

	report := &ExecutionReport{
		TaskID: task.ID,
		Status: task.Status,
	}
	for _, platform := range task.Platforms {
		if result, ok := task.PublishResults[platform]; ok {
			report.Platforms = append(report.Platforms, result)
		}
	}

	o.logger.Info("Publish execution completed",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status)),
		zap.Int("platforms", len(report.Platforms)))

	return report, nil
}
