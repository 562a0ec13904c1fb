package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/omarreid/syndicate/internal/models"
)

// ConnectionStore answers "is this platform connected for this owner".
// Token lifecycle is out of scope; rows are read-only to the pipeline.
type ConnectionStore interface {
	// GetConnection returns nil (no error) when the owner has no connection
	// for the platform.
	GetConnection(ctx context.Context, owner, platform string) (*models.Connection, error)
}

type gormConnectionStore struct {
	db *gorm.DB
}

func NewConnectionStore(db *gorm.DB) ConnectionStore {
	return &gormConnectionStore{db: db}
}

func (s *gormConnectionStore) GetConnection(ctx context.Context, owner, platform string) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.WithContext(ctx).First(&conn, "owner = ? AND platform = ?", owner, platform).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &models.StoreUnavailableError{Op: "get connection", Err: err}
	}
	return &conn, nil
}
