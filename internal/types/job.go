package types

import (
	"time"
)

// Job is the durable job row. A job is in exactly one of three states:
// unfinished (FinishTimestamp nil), succeeded (FinishTimestamp set,
// Downloaded non-nil, ErrorMsg nil) or failed (FinishTimestamp set,
// Downloaded nil, ErrorMsg non-nil).
type Job struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64      `gorm:"not null;index;column:user_id" json:"user_id"`
	SettingsID      *int64     `gorm:"column:settings_id" json:"settings_id"`
	CreatedAt       time.Time  `gorm:"not null;column:created_at" json:"created_at"`
	FileName        string     `gorm:"not null;column:file_name" json:"file_name"`
	Aborting        bool       `gorm:"not null;default:false;column:aborting" json:"aborting"`
	AudioBlobID     *int64     `gorm:"column:audio_blob_id" json:"-"`
	FinishTimestamp *time.Time `gorm:"column:finish_timestamp" json:"finish_timestamp"`

	// Runner metadata is fully nil or fully set, except RunnerID which can
	// go nil again when the runner identity is deleted.
	RunnerID        *int64  `gorm:"column:runner_id" json:"runner_id"`
	RunnerName      *string `gorm:"column:runner_name" json:"runner_name"`
	RunnerVersion   *string `gorm:"column:runner_version" json:"runner_version"`
	RunnerGitHash   *string `gorm:"column:runner_git_hash" json:"runner_git_hash"`
	RunnerSourceURL *string `gorm:"column:runner_source_url" json:"runner_source_url"`

	Downloaded *bool   `gorm:"column:downloaded" json:"downloaded"`
	ErrorMsg   *string `gorm:"column:error_msg" json:"error_msg"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) Finished() bool {
	return j.FinishTimestamp != nil
}

// RunnerSnapshot is the runner metadata recorded on the job row at
// finalisation time.
type RunnerSnapshot struct {
	ID        int64
	Name      string
	Version   string
	GitHash   string
	SourceURL string
}
