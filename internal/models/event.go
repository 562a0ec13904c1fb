package models

import (
	"time"
)

// EventLog is an operator-visible record of pipeline incidents: missed jobs,
// platform publish failures, store outages. Rows are append-only.
type EventLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;not null;index" json:"level"`
	Source    string    `gorm:"size:100;not null;index" json:"source"`
	Platform  string    `gorm:"size:100;index" json:"platform"`
	TaskID    string    `gorm:"size:36;index" json:"task_id"`
	JobID     string    `gorm:"size:36;index" json:"job_id"`
	Title     string    `gorm:"size:500;not null" json:"title"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Context   string    `gorm:"type:jsonb" json:"context"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// MetricsSample is one counter or gauge observation, written by the publish
// path so outcome rates can be queried without a metrics stack.
type MetricsSample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MetricName string    `gorm:"size:100;not null;index" json:"metric_name"`
	MetricType string    `gorm:"size:50;not null" json:"metric_type"`
	Value      float64   `gorm:"not null" json:"value"`
	Tags       string    `gorm:"type:jsonb" json:"tags"`
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
