package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omarreid/syndicate/internal/models"
)

// ScheduleOptions tune one job's firing behavior.
type ScheduleOptions struct {
	MisfireGrace time.Duration
	Coalesce     bool
	MaxInstances int
}

// JobStore persists schedule intent. One row per task; rescheduling replaces
// the prior entry.
type JobStore interface {
	Schedule(ctx context.Context, taskID string, runAt time.Time, opts ScheduleOptions) (*models.ScheduledJob, error)
	// Cancel removes the job for a task; no-op if absent.
	Cancel(ctx context.Context, taskID string) error
	Remove(ctx context.Context, jobID string) error
	List(ctx context.Context) ([]models.ScheduledJob, error)
	Due(ctx context.Context, now time.Time) ([]models.ScheduledJob, error)
}

type gormJobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) JobStore {
	return &gormJobStore{db: db}
}

func (s *gormJobStore) Schedule(ctx context.Context, taskID string, runAt time.Time, opts ScheduleOptions) (*models.ScheduledJob, error) {
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = models.DefaultMisfireGrace
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = 1
	}

	job := models.ScheduledJob{
		ID:               uuid.NewString(),
		TaskID:           taskID,
		NextRunTime:      runAt.UTC(),
		MisfireGraceSecs: int64(opts.MisfireGrace / time.Second),
		Coalesce:         opts.Coalesce,
		MaxInstances:     opts.MaxInstances,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"next_run_time", "misfire_grace_secs", "coalesce", "max_instances", "updated_at",
		}),
	}).Create(&job).Error
	if err != nil {
		return nil, &models.StoreUnavailableError{Op: "schedule job", Err: err}
	}

	// On conflict the original row id is kept, so read the row back.
	var stored models.ScheduledJob
	if err := s.db.WithContext(ctx).First(&stored, "task_id = ?", taskID).Error; err != nil {
		return nil, &models.StoreUnavailableError{Op: "schedule job", Err: err}
	}
	return &stored, nil
}

func (s *gormJobStore) Cancel(ctx context.Context, taskID string) error {
	if err := s.db.WithContext(ctx).Delete(&models.ScheduledJob{}, "task_id = ?", taskID).Error; err != nil {
		return &models.StoreUnavailableError{Op: "cancel job", Err: err}
	}
	return nil
}

func (s *gormJobStore) Remove(ctx context.Context, jobID string) error {
	if err := s.db.WithContext(ctx).Delete(&models.ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return &models.StoreUnavailableError{Op: "remove job", Err: err}
	}
	return nil
}

func (s *gormJobStore) List(ctx context.Context) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	if err := s.db.WithContext(ctx).Order("next_run_time ASC").Find(&jobs).Error; err != nil {
		return nil, &models.StoreUnavailableError{Op: "list jobs", Err: err}
	}
	return jobs, nil
}

func (s *gormJobStore) Due(ctx context.Context, now time.Time) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	if err := s.db.WithContext(ctx).
		Where("next_run_time <= ?", now.UTC()).
		Order("next_run_time ASC").
		Find(&jobs).Error; err != nil {
		return nil, &models.StoreUnavailableError{Op: "due jobs", Err: err}
	}
	return jobs, nil
}
