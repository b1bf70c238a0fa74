package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Job statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is one unit of durable background work. DedupeKey is set while the
// job is pending or running and cleared when it settles, so at most one
// active job exists per key.
type Job struct {
	ID          string         `json:"id"                   gorm:"type:char(36);primaryKey"`
	Kind        string         `json:"kind"                 gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSON `json:"payload"              swaggertype:"object"`
	DedupeKey   *string        `json:"dedupe_key,omitempty" gorm:"type:varchar(191);uniqueIndex"`
	Status      string         `json:"status"               gorm:"type:varchar(16);not null;index:idx_jobs_claim,priority:1"`
	Attempts    int            `json:"attempts"             gorm:"not null;default:0"`
	Deferrals   int            `json:"deferrals"            gorm:"not null;default:0"`
	MaxAttempts int            `json:"max_attempts"         gorm:"not null"`
	RunAt       time.Time      `json:"run_at"               gorm:"not null;index:idx_jobs_claim,priority:2"`
	LockedBy    string         `json:"-"                    gorm:"type:char(36);not null;default:''"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	LastError   string         `json:"last_error,omitempty" gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Job) TableName() string { return "jobs" }
