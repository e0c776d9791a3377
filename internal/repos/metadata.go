package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

// CleanupKind names one of the guarded maintenance tasks.
type CleanupKind string

const (
	CleanupGeneral CleanupKind = "general"
	CleanupJobs    CleanupKind = "jobs"
	CleanupUsers   CleanupKind = "users"
)

var ErrCleanupTooSoon = errors.New("cleanup already ran within the last 24h")

type MetadataRepo interface {
	Get(ctx context.Context, tx *gorm.DB) (*types.Metadata, error)
	// ClaimCleanup stamps the task's last-ran time, failing with
	// ErrCleanupTooSoon if the previous run is younger than minInterval.
	// The check and the stamp share one transaction so concurrent workers
	// cannot both claim a run.
	ClaimCleanup(ctx context.Context, tx *gorm.DB, kind CleanupKind, minInterval time.Duration) error
}

type metadataRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMetadataRepo(db *gorm.DB, baseLog *logger.Logger) MetadataRepo {
	return &metadataRepo{db: db, log: baseLog.With("repo", "MetadataRepo")}
}

func (mr *metadataRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return mr.db
}

func (mr *metadataRepo) Get(ctx context.Context, tx *gorm.DB) (*types.Metadata, error) {
	var meta types.Metadata
	if err := mr.conn(tx).WithContext(ctx).First(&meta, "id = ?", 1).Error; err != nil {
		return nil, err
	}
	return &meta, nil
}

func (mr *metadataRepo) ClaimCleanup(ctx context.Context, tx *gorm.DB, kind CleanupKind, minInterval time.Duration) error {
	column := ""
	switch kind {
	case CleanupGeneral:
		column = "cleanup_general_at"
	case CleanupJobs:
		column = "cleanup_jobs_at"
	case CleanupUsers:
		column = "cleanup_users_at"
	default:
		return errors.New("unknown cleanup kind")
	}
	return mr.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		var meta types.Metadata
		if err := lockForUpdate(t).First(&meta, "id = ?", 1).Error; err != nil {
			return err
		}
		var last *time.Time
		switch kind {
		case CleanupGeneral:
			last = meta.CleanupGeneralAt
		case CleanupJobs:
			last = meta.CleanupJobsAt
		case CleanupUsers:
			last = meta.CleanupUsersAt
		}
		if last != nil && time.Since(*last) < minInterval {
			return ErrCleanupTooSoon
		}
		return t.Model(&types.Metadata{}).Where("id = ?", 1).
			Update(column, time.Now()).Error
	})
}
