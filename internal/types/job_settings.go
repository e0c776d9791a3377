package types

import (
	"gorm.io/datatypes"
)

// JobSettings is a per-user recipe of transcription parameters. At most one
// row per user carries IsDefault; orphaned non-default rows are swept by
// cleanup.
type JobSettings struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64  `gorm:"not null;index;column:user_id" json:"user_id"`
	IsDefault bool   `gorm:"not null;default:false;column:is_default" json:"is_default"`
	Model     string `gorm:"not null;default:'base';column:model" json:"model"`
	Language  *string `gorm:"column:language" json:"language"`
	Align     bool   `gorm:"not null;default:false;column:align" json:"align"`
	Diarize   bool   `gorm:"not null;default:false;column:diarize" json:"diarize"`
	VadFilter bool   `gorm:"not null;default:false;column:vad_filter" json:"vad_filter"`

	// Decoder parameters passed through to the runner untouched.
	DecoderOptions datatypes.JSONMap `gorm:"column:decoder_options" json:"decoder_options"`
}

func (JobSettings) TableName() string {
	return "job_settings"
}
