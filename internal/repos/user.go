package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error)
	GetByID(ctx context.Context, tx *gorm.DB, userID int64) (*types.User, error)
	GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error)
	EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error)
	TouchLastLogin(ctx context.Context, tx *gorm.DB, userID int64) error
	// StaleSince lists non-provisioned users whose last login predates the
	// cutoff. Provisioned identities are dictated by configuration and are
	// never swept.
	StaleSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.User, error)
	DeleteByIDs(ctx context.Context, tx *gorm.DB, userIDs []int64) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (ur *userRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ur.db
}

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error) {
	if err := ur.conn(tx).WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (ur *userRepo) GetByID(ctx context.Context, tx *gorm.DB, userID int64) (*types.User, error) {
	var user types.User
	err := ur.conn(tx).WithContext(ctx).
		Preload("LocalAccount").Preload("OIDCAccount").Preload("LDAPAccount").
		First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (ur *userRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error) {
	var user types.User
	err := ur.conn(tx).WithContext(ctx).
		Preload("LocalAccount").Preload("OIDCAccount").Preload("LDAPAccount").
		First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (ur *userRepo) EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	var count int64
	err := ur.conn(tx).WithContext(ctx).
		Model(&types.User{}).
		Where("email = ?", email).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (ur *userRepo) TouchLastLogin(ctx context.Context, tx *gorm.DB, userID int64) error {
	return ur.conn(tx).WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Update("last_login", time.Now()).Error
}

func (ur *userRepo) StaleSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.User, error) {
	var results []*types.User
	err := ur.conn(tx).WithContext(ctx).
		Preload("LocalAccount").
		Where("last_login < ?", cutoff).
		Where("id NOT IN (?)",
			ur.conn(tx).Session(&gorm.Session{NewDB: true}).
				Model(&types.LocalAccount{}).Select("user_id").Where("provisioned")).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *userRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	return ur.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		var jobIDs []int64
		if err := t.Model(&types.Job{}).Where("user_id IN ?", userIDs).
			Pluck("id", &jobIDs).Error; err != nil {
			return err
		}
		if len(jobIDs) > 0 {
			if err := t.Delete(&types.Job{}, "id IN ?", jobIDs).Error; err != nil {
				return err
			}
		}
		for _, model := range []interface{}{
			&types.JobSettings{}, &types.LocalAccount{}, &types.OIDCAccount{}, &types.LDAPAccount{},
		} {
			if err := t.Delete(model, "user_id IN ?", userIDs).Error; err != nil {
				return err
			}
		}
		// Users must be gone before their token secrets, otherwise the
		// recreate trigger resurrects the rows.
		if err := t.Delete(&types.User{}, "id IN ?", userIDs).Error; err != nil {
			return err
		}
		return t.Delete(&types.TokenSecret{}, "user_id IN ?", userIDs).Error
	})
}
