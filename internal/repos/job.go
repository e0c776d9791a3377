package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrJobAlreadyFinished = errors.New("job already finished")
)

// UnfinishedJob is the projection recovery works on.
type UnfinishedJob struct {
	ID       int64
	UserID   int64
	Aborting bool
}

type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error)
	GetByID(ctx context.Context, tx *gorm.DB, jobID int64) (*types.Job, error)
	OwnerOf(ctx context.Context, tx *gorm.DB, jobID int64) (int64, error)
	GetAllUnfinished(ctx context.Context, tx *gorm.DB) ([]UnfinishedJob, error)
	MarkAborting(ctx context.Context, tx *gorm.DB, jobID int64) error
	FinishSuccessful(ctx context.Context, tx *gorm.DB, jobID int64, runner *types.RunnerSnapshot, transcript *types.Transcript) error
	FinishFailed(ctx context.Context, tx *gorm.DB, jobID int64, errorMsg string, runner *types.RunnerSnapshot) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, jobIDs []int64) error
	CountByUser(ctx context.Context, tx *gorm.DB, userID int64) (int64, error)
	TopKByUser(ctx context.Context, tx *gorm.DB, userID int64, k int) ([]*types.Job, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, jobIDs []int64) ([]*types.Job, error)
	DeleteFinishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (jr *jobRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return jr.db
}

func (jr *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) (*types.Job, error) {
	if err := jr.conn(tx).WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (jr *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, jobID int64) (*types.Job, error) {
	var job types.Job
	err := jr.conn(tx).WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (jr *jobRepo) OwnerOf(ctx context.Context, tx *gorm.DB, jobID int64) (int64, error) {
	var userID int64
	err := jr.conn(tx).WithContext(ctx).
		Model(&types.Job{}).
		Where("id = ?", jobID).
		Pluck("user_id", &userID).Error
	if err != nil {
		return 0, err
	}
	if userID == 0 {
		return 0, ErrJobNotFound
	}
	return userID, nil
}

func (jr *jobRepo) GetAllUnfinished(ctx context.Context, tx *gorm.DB) ([]UnfinishedJob, error) {
	var results []UnfinishedJob
	err := jr.conn(tx).WithContext(ctx).
		Model(&types.Job{}).
		Select("id", "user_id", "aborting").
		Where("finish_timestamp IS NULL").
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MarkAborting sets the flag and unlinks the audio blob. Repeat calls are
// no-ops; the blob can only be unlinked once.
func (jr *jobRepo) MarkAborting(ctx context.Context, tx *gorm.DB, jobID int64) error {
	return jr.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		var job types.Job
		if err := lockForUpdate(t).First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		if job.Aborting {
			return nil
		}
		blobID := job.AudioBlobID
		if err := t.Model(&types.Job{}).Where("id = ?", jobID).
			Updates(map[string]interface{}{"aborting": true, "audio_blob_id": nil}).Error; err != nil {
			return err
		}
		if blobID != nil {
			if err := t.Delete(&types.AudioBlob{}, "id = ?", *blobID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (jr *jobRepo) FinishSuccessful(ctx context.Context, tx *gorm.DB, jobID int64, runner *types.RunnerSnapshot, transcript *types.Transcript) error {
	return jr.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		job, err := lockUnfinished(t, jobID)
		if err != nil {
			return err
		}
		downloaded := false
		updates := map[string]interface{}{
			"finish_timestamp": time.Now(),
			"aborting":         false,
			"audio_blob_id":    nil,
			"downloaded":       &downloaded,
			"error_msg":        nil,
		}
		applyRunnerSnapshot(updates, runner)
		if err := t.Model(&types.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return err
		}
		transcript.JobID = jobID
		if err := t.Create(transcript).Error; err != nil {
			return err
		}
		return unlinkBlob(t, job)
	})
}

func (jr *jobRepo) FinishFailed(ctx context.Context, tx *gorm.DB, jobID int64, errorMsg string, runner *types.RunnerSnapshot) error {
	return jr.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		job, err := lockUnfinished(t, jobID)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"finish_timestamp": time.Now(),
			"aborting":         false,
			"audio_blob_id":    nil,
			"downloaded":       nil,
			"error_msg":        errorMsg,
		}
		applyRunnerSnapshot(updates, runner)
		if err := t.Model(&types.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return err
		}
		return unlinkBlob(t, job)
	})
}

func (jr *jobRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, jobIDs []int64) error {
	if len(jobIDs) == 0 {
		return nil
	}
	return jr.conn(tx).WithContext(ctx).Delete(&types.Job{}, "id IN ?", jobIDs).Error
}

func (jr *jobRepo) CountByUser(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	var count int64
	err := jr.conn(tx).WithContext(ctx).
		Model(&types.Job{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (jr *jobRepo) TopKByUser(ctx context.Context, tx *gorm.DB, userID int64, k int) ([]*types.Job, error) {
	var results []*types.Job
	err := jr.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(k).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (jr *jobRepo) GetByIDs(ctx context.Context, tx *gorm.DB, jobIDs []int64) ([]*types.Job, error) {
	var results []*types.Job
	if len(jobIDs) == 0 {
		return results, nil
	}
	err := jr.conn(tx).WithContext(ctx).
		Where("id IN ?", jobIDs).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (jr *jobRepo) DeleteFinishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := jr.conn(tx).WithContext(ctx).
		Delete(&types.Job{}, "finish_timestamp IS NOT NULL AND finish_timestamp < ?", cutoff)
	return res.RowsAffected, res.Error
}

func lockUnfinished(t *gorm.DB, jobID int64) (*types.Job, error) {
	var job types.Job
	if err := lockForUpdate(t).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.Finished() {
		return nil, fmt.Errorf("%w: job %d", ErrJobAlreadyFinished, jobID)
	}
	return &job, nil
}

func applyRunnerSnapshot(updates map[string]interface{}, runner *types.RunnerSnapshot) {
	if runner == nil {
		return
	}
	updates["runner_id"] = runner.ID
	updates["runner_name"] = runner.Name
	updates["runner_version"] = runner.Version
	updates["runner_git_hash"] = runner.GitHash
	updates["runner_source_url"] = runner.SourceURL
}

func unlinkBlob(t *gorm.DB, job *types.Job) error {
	if job.AudioBlobID == nil {
		return nil
	}
	return t.Delete(&types.AudioBlob{}, "id = ?", *job.AudioBlobID).Error
}
