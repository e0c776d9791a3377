package types

import (
	"time"
)

// Runner is the durable identity of an accredited worker. The token itself
// is never stored, only base64url(sha256(token)).
type Runner struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenHash string    `gorm:"uniqueIndex;not null;size:43;column:token_hash" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Runner) TableName() string {
	return "runners"
}
