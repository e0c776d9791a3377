package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

var ErrTranscriptNotFound = errors.New("transcript not found")

type TranscriptRepo interface {
	GetByJobID(ctx context.Context, tx *gorm.DB, jobID int64) (*types.Transcript, error)
	// GetAndMarkDownloaded returns the transcript for an owned job and
	// atomically flips the job's downloaded flag.
	GetAndMarkDownloaded(ctx context.Context, tx *gorm.DB, userID, jobID int64) (*types.Transcript, error)
}

type transcriptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptRepo {
	return &transcriptRepo{db: db, log: baseLog.With("repo", "TranscriptRepo")}
}

func (tr *transcriptRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return tr.db
}

func (tr *transcriptRepo) GetByJobID(ctx context.Context, tx *gorm.DB, jobID int64) (*types.Transcript, error) {
	var transcript types.Transcript
	err := tr.conn(tx).WithContext(ctx).First(&transcript, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &transcript, nil
}

func (tr *transcriptRepo) GetAndMarkDownloaded(ctx context.Context, tx *gorm.DB, userID, jobID int64) (*types.Transcript, error) {
	var transcript *types.Transcript
	err := tr.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		var job types.Job
		if err := lockForUpdate(t).First(&job, "id = ? AND user_id = ?", jobID, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		if job.FinishTimestamp == nil || job.Downloaded == nil {
			return ErrTranscriptNotFound
		}
		var found types.Transcript
		if err := t.First(&found, "job_id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTranscriptNotFound
			}
			return err
		}
		if err := t.Model(&types.Job{}).Where("id = ?", jobID).
			Update("downloaded", true).Error; err != nil {
			return err
		}
		transcript = &found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transcript, nil
}
