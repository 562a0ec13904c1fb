package service

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/omarreid/syndicate/internal/models"
)

// MonitoringService writes operator-visible event and metric rows. A nil
// receiver is a no-op so tests and trimmed deployments can skip it.
type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// RecordError appends one event log row.
func (m *MonitoringService) RecordError(level, source, title, message string, options ...EventLogOption) error {
	if m == nil {
		return nil
	}
	event := &models.EventLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}
	for _, option := range options {
		option(event)
	}
	return m.db.Create(event).Error
}

// RecordMetric appends one metric sample.
func (m *MonitoringService) RecordMetric(name, metricType string, value float64, tags map[string]interface{}) error {
	if m == nil {
		return nil
	}
	sample := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Timestamp:  time.Now().UTC(),
	}
	if tags != nil {
		if raw, err := json.Marshal(tags); err == nil {
			sample.Tags = string(raw)
		}
	}
	return m.db.Create(sample).Error
}

// EventLogOption attaches context to an event row.
type EventLogOption func(*models.EventLog)

func WithPlatform(platform string) EventLogOption {
	return func(e *models.EventLog) {
		e.Platform = platform
	}
}

func WithTask(taskID string) EventLogOption {
	return func(e *models.EventLog) {
		e.TaskID = taskID
	}
}

func WithJob(jobID string) EventLogOption {
	return func(e *models.EventLog) {
		e.JobID = jobID
	}
}

func WithContext(context map[string]interface{}) EventLogOption {
	return func(e *models.EventLog) {
		if raw, err := json.Marshal(context); err == nil {
			e.Context = string(raw)
		}
	}
}
