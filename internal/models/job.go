package models

import (
	"time"
)

// DefaultMisfireGrace is how far past its due time a job may still run.
// Beyond this the job is considered missed rather than silently run late.
const DefaultMisfireGrace = time.Hour

// ScheduledJob binds a task to a future execution time. One row per task;
// re-scheduling replaces the prior entry. Rows survive process restart and
// are removed on successful execution, cancellation or task deletion.
type ScheduledJob struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	TaskID           string    `gorm:"uniqueIndex;not null;size:36" json:"task_id"`
	NextRunTime      time.Time `gorm:"not null;index" json:"next_run_time"`
	MisfireGraceSecs int64     `gorm:"not null;default:3600" json:"misfire_grace_period"`
	// No default tag: with one, gorm skips an explicit false on insert.
	Coalesce         bool      `gorm:"not null" json:"coalesce"`
	MaxInstances     int       `gorm:"default:1" json:"max_instances"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GracePeriod returns the misfire grace period as a duration.
func (j *ScheduledJob) GracePeriod() time.Duration {
	if j.MisfireGraceSecs <= 0 {
		return DefaultMisfireGrace
	}
	return time.Duration(j.MisfireGraceSecs) * time.Second
}

// Misfired reports whether the job's due time has passed by more than its
// grace period.
func (j *ScheduledJob) Misfired(now time.Time) bool {
	return now.Sub(j.NextRunTime) > j.GracePeriod()
}
