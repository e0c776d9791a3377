package types

import (
	"time"
)

// Metadata is a single-row table recording which software version last
// opened the store plus the cleanup bookkeeping stamps.
type Metadata struct {
	ID int64 `gorm:"primaryKey;column:id" json:"id"`

	Version string `gorm:"not null;column:version" json:"version"`

	CleanupGeneralAt *time.Time `gorm:"column:cleanup_general_at" json:"cleanup_general_at"`
	CleanupJobsAt    *time.Time `gorm:"column:cleanup_jobs_at" json:"cleanup_jobs_at"`
	CleanupUsersAt   *time.Time `gorm:"column:cleanup_users_at" json:"cleanup_users_at"`
}

func (Metadata) TableName() string {
	return "metadata"
}
