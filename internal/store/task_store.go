package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/omarreid/syndicate/internal/models"
)

// TaskStore persists tasks. All mutation goes through Save's expected-version
// check; there is no broader locking so the API tier stays horizontally
// scalable.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	Load(ctx context.Context, id string) (*models.Task, error)
	// Save persists the pipeline-owned fields (status, scheduled_for,
	// publish_results, checkpoint) if and only if the row still carries
	// expectedVersion. On success the version is incremented, both in the
	// row and on t. A stale version yields models.ErrConflict.
	Save(ctx context.Context, t *models.Task, expectedVersion int64) error
	List(ctx context.Context) ([]models.Task, error)
}

type gormTaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) TaskStore {
	return &gormTaskStore{db: db}
}

func (s *gormTaskStore) Create(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.StatusDraft
	}
	t.Version = 1
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return &models.StoreUnavailableError{Op: "create task", Err: err}
	}
	return nil
}

func (s *gormTaskStore) Load(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrTaskNotFound
		}
		return nil, &models.StoreUnavailableError{Op: "load task", Err: err}
	}
	return &t, nil
}

func (s *gormTaskStore) Save(ctx context.Context, t *models.Task, expectedVersion int64) error {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND version = ?", t.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":          t.Status,
			"scheduled_for":   t.ScheduledFor,
			"publish_results": t.PublishResults,
			"checkpoint":      t.Checkpoint,
			"version":         expectedVersion + 1,
		})
	if res.Error != nil {
		return &models.StoreUnavailableError{Op: "save task", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", t.ID).Count(&count).Error; err != nil {
			return &models.StoreUnavailableError{Op: "save task", Err: err}
		}
		if count == 0 {
			return models.ErrTaskNotFound
		}
		return models.ErrConflict
	}
	t.Version = expectedVersion + 1
	return nil
}

func (s *gormTaskStore) List(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, &models.StoreUnavailableError{Op: "list tasks", Err: err}
	}
	return tasks, nil
}
