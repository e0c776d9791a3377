package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

var ErrSettingsNotFound = errors.New("settings not found")

type SettingsRepo interface {
	Create(ctx context.Context, tx *gorm.DB, settings *types.JobSettings) (*types.JobSettings, error)
	GetByID(ctx context.Context, tx *gorm.DB, settingsID int64) (*types.JobSettings, error)
	// GetOwned returns the record only when it belongs to userID.
	GetOwned(ctx context.Context, tx *gorm.DB, userID, settingsID int64) (*types.JobSettings, error)
	GetDefault(ctx context.Context, tx *gorm.DB, userID int64) (*types.JobSettings, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID int64) ([]*types.JobSettings, error)
	// SetDefault flips the default flag to the given record, clearing any
	// previous default of the same user in the same transaction.
	SetDefault(ctx context.Context, tx *gorm.DB, userID, settingsID int64) error
	// DeleteOrphanNonDefault removes non-default records no job references.
	DeleteOrphanNonDefault(ctx context.Context, tx *gorm.DB, userID *int64) (int64, error)
}

type settingsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSettingsRepo(db *gorm.DB, baseLog *logger.Logger) SettingsRepo {
	return &settingsRepo{db: db, log: baseLog.With("repo", "SettingsRepo")}
}

func (sr *settingsRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return sr.db
}

func (sr *settingsRepo) Create(ctx context.Context, tx *gorm.DB, settings *types.JobSettings) (*types.JobSettings, error) {
	if err := sr.conn(tx).WithContext(ctx).Create(settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

func (sr *settingsRepo) GetByID(ctx context.Context, tx *gorm.DB, settingsID int64) (*types.JobSettings, error) {
	var settings types.JobSettings
	err := sr.conn(tx).WithContext(ctx).First(&settings, "id = ?", settingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (sr *settingsRepo) GetOwned(ctx context.Context, tx *gorm.DB, userID, settingsID int64) (*types.JobSettings, error) {
	var settings types.JobSettings
	err := sr.conn(tx).WithContext(ctx).
		First(&settings, "id = ? AND user_id = ?", settingsID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (sr *settingsRepo) GetDefault(ctx context.Context, tx *gorm.DB, userID int64) (*types.JobSettings, error) {
	var settings types.JobSettings
	err := sr.conn(tx).WithContext(ctx).
		First(&settings, "user_id = ? AND is_default", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (sr *settingsRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID int64) ([]*types.JobSettings, error) {
	var results []*types.JobSettings
	err := sr.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (sr *settingsRepo) SetDefault(ctx context.Context, tx *gorm.DB, userID, settingsID int64) error {
	return sr.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		if err := t.Model(&types.JobSettings{}).
			Where("user_id = ? AND is_default", userID).
			Update("is_default", false).Error; err != nil {
			return err
		}
		res := t.Model(&types.JobSettings{}).
			Where("id = ? AND user_id = ?", settingsID, userID).
			Update("is_default", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSettingsNotFound
		}
		return nil
	})
}

func (sr *settingsRepo) DeleteOrphanNonDefault(ctx context.Context, tx *gorm.DB, userID *int64) (int64, error) {
	conn := sr.conn(tx).WithContext(ctx)
	query := conn.
		Where("NOT is_default").
		Where("id NOT IN (?)",
			conn.Session(&gorm.Session{NewDB: true}).
				Model(&types.Job{}).Select("settings_id").Where("settings_id IS NOT NULL"))
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	res := query.Delete(&types.JobSettings{})
	return res.RowsAffected, res.Error
}
