package types

import (
	"time"
)

// SiteData is a small key/value table for operator-editable site content
// (imprint, contact address and the like) served outside the job surface.
type SiteData struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SiteData) TableName() string {
	return "site_data"
}
