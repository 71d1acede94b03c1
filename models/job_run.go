package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JobRun is an audit snapshot of a dispatch job written when the job reaches a
// terminal status. It is never read back to resume work.
type JobRun struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UUID         uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_job_runs_uuid" json:"uuid"`
	JobKey       string         `gorm:"size:128;not null;index:idx_job_runs_job_key" json:"job_key"`
	AccountID    string         `gorm:"size:64;not null;index:idx_job_runs_account_id" json:"account_id"`
	Platform     string         `gorm:"size:16;not null" json:"platform"`
	Status       string         `gorm:"size:16;not null;index:idx_job_runs_status" json:"status"`
	Items        pq.StringArray `gorm:"type:text[];not null" json:"items"`
	Cursor       int            `gorm:"not null" json:"cursor"`
	DelaySeconds int            `gorm:"not null" json:"delay_seconds"`
	LastError    *string        `gorm:"type:text" json:"last_error,omitempty"`

	// Results and counters as rendered by the scheduler snapshot
	Results json.RawMessage `gorm:"type:jsonb;not null;default:'[]'" json:"results"`
	Summary json.RawMessage `gorm:"type:jsonb;not null;default:'{}'" json:"summary"`

	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_job_runs_created_at" json:"created_at"`
}

func (JobRun) TableName() string {
	return "job_runs"
}

// JobRunFilter represents filter criteria for job run queries
type JobRunFilter struct {
	UUID          *uuid.UUID
	JobKey        *string
	AccountID     *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
