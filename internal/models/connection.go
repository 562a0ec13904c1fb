package models

import (
	"time"

	"gorm.io/gorm"
)

// Connection is a stored credential binding an owner to one platform
// account. Token lifecycle (refresh, revocation) is managed elsewhere; the
// pipeline only reads these rows to answer "is this platform connected".
type Connection struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Owner       string         `gorm:"not null;size:255;uniqueIndex:idx_connections_owner_platform" json:"owner"`
	Platform    string         `gorm:"not null;size:100;uniqueIndex:idx_connections_owner_platform" json:"platform"`
	BaseURL     string         `gorm:"size:500" json:"base_url"`
	AccessToken string         `gorm:"size:1000" json:"-"`
	AccountID   string         `gorm:"size:255" json:"account_id"`
	// No default tag: gorm would skip an explicit false on insert and let
	// the column default win, silently enabling a disabled connection.
	Enabled     bool           `gorm:"not null" json:"enabled"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}
