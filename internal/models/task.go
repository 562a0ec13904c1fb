package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// TaskStatus is the lifecycle state of a publishable task.
type TaskStatus string

const (
	StatusDraft           TaskStatus = "draft"
	StatusPendingApproval TaskStatus = "pending_approval"
	StatusApproved        TaskStatus = "approved"
	StatusScheduled       TaskStatus = "scheduled"
	StatusPublishing      TaskStatus = "publishing"
	StatusPublished       TaskStatus = "published"
	StatusFailed          TaskStatus = "failed"
	StatusCancelled       TaskStatus = "cancelled"
)

// StringArray represents a PostgreSQL text[] type
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "{}" || v == "" {
			*s = StringArray{}
			return nil
		}

		trimmed := strings.Trim(v, "{}")
		if trimmed == "" {
			*s = StringArray{}
			return nil
		}

		parts := strings.Split(trimmed, ",")
		result := make([]string, len(parts))
		for i, part := range parts {
			result[i] = strings.Trim(strings.TrimSpace(part), "\"")
		}
		*s = result
		return nil
	case []byte:
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			*s = arr
			return nil
		}
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(s))
	for i, v := range s {
		escaped := strings.ReplaceAll(v, "\"", "\\\"")
		quoted[i] = fmt.Sprintf("\"%s\"", escaped)
	}

	return fmt.Sprintf("{%s}", strings.Join(quoted, ",")), nil
}

// PublishOutcome is the final state of one platform's publish attempt.
type PublishOutcome string

const (
	OutcomeSuccess PublishOutcome = "success"
	OutcomeFailure PublishOutcome = "failure"
)

// PublishResult is the outcome of one platform's publish attempt. A retry
// replaces the prior failed result for the same platform.
type PublishResult struct {
	Platform    string         `json:"platform"`
	Status      PublishOutcome `json:"status"`
	ExternalID  string         `json:"external_id,omitempty"`
	URL         string         `json:"url,omitempty"`
	Error       string         `json:"error,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}

// ResultMap maps platform name to its publish result, stored as jsonb.
type ResultMap map[string]PublishResult

func (m *ResultMap) Scan(value interface{}) error {
	if value == nil {
		*m = ResultMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into ResultMap", value)
	}
}

func (m ResultMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Task is a publishable content artifact. The publish pipeline mutates only
// Status, PublishResults, Checkpoint and Version; Content is owned by the
// authoring side and handed to the pipeline fully formed.
type Task struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	Title          string         `gorm:"size:500" json:"title"`
	Owner          string         `gorm:"size:255;index" json:"owner"`
	Content        string         `gorm:"type:jsonb" json:"content"`
	Platforms      StringArray    `gorm:"type:text[]" json:"platforms"`
	Status         TaskStatus     `gorm:"size:50;default:'draft';index" json:"status"`
	ScheduledFor   *time.Time     `json:"scheduled_for"`
	Version        int64          `gorm:"not null;default:1" json:"version"`
	PublishResults ResultMap      `gorm:"type:jsonb" json:"publish_results"`
	Checkpoint     Checkpoint     `gorm:"type:jsonb" json:"checkpoint"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}
