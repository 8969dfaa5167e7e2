package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobKindScan       = "scan"
	JobKindDerivative = "derivative"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusDead      = "dead"
)

// Job is one queued unit of background work. Delivery is at-least-once: a
// running job whose lease expires becomes claimable again, so handlers must
// be idempotent keyed by (asset, kind).
type Job struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID uuid.UUID `gorm:"type:uuid;not null;index:idx_job_asset_kind" json:"asset_id"`
	Kind    string    `gorm:"column:kind;not null;index:idx_job_asset_kind;index:idx_job_lease" json:"kind"`

	Status         string     `gorm:"column:status;not null;default:'queued';index:idx_job_lease" json:"status"`
	Attempts       int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextRunAt      time.Time  `gorm:"column:next_run_at;not null;index:idx_job_lease" json:"next_run_at"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at" json:"lease_expires_at,omitempty"`
	LastError      string     `gorm:"column:last_error" json:"last_error,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Job) TableName() string { return "job" }
