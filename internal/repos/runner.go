package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

var ErrRunnerNotFound = errors.New("runner not found")

type RunnerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runner *types.Runner) (*types.Runner, error)
	GetByTokenHash(ctx context.Context, tx *gorm.DB, tokenHash string) (*types.Runner, error)
	GetByID(ctx context.Context, tx *gorm.DB, runnerID int64) (*types.Runner, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Runner, error)
	Delete(ctx context.Context, tx *gorm.DB, runnerID int64) error
}

type runnerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunnerRepo(db *gorm.DB, baseLog *logger.Logger) RunnerRepo {
	return &runnerRepo{db: db, log: baseLog.With("repo", "RunnerRepo")}
}

func (rr *runnerRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return rr.db
}

func (rr *runnerRepo) Create(ctx context.Context, tx *gorm.DB, runner *types.Runner) (*types.Runner, error) {
	if err := rr.conn(tx).WithContext(ctx).Create(runner).Error; err != nil {
		return nil, err
	}
	return runner, nil
}

func (rr *runnerRepo) GetByTokenHash(ctx context.Context, tx *gorm.DB, tokenHash string) (*types.Runner, error) {
	var runner types.Runner
	err := rr.conn(tx).WithContext(ctx).First(&runner, "token_hash = ?", tokenHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &runner, nil
}

func (rr *runnerRepo) GetByID(ctx context.Context, tx *gorm.DB, runnerID int64) (*types.Runner, error) {
	var runner types.Runner
	err := rr.conn(tx).WithContext(ctx).First(&runner, "id = ?", runnerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &runner, nil
}

func (rr *runnerRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Runner, error) {
	var results []*types.Runner
	if err := rr.conn(tx).WithContext(ctx).Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (rr *runnerRepo) Delete(ctx context.Context, tx *gorm.DB, runnerID int64) error {
	return rr.conn(tx).WithContext(ctx).Transaction(func(t *gorm.DB) error {
		// Finished jobs keep the textual runner metadata but drop the id.
		if err := t.Model(&types.Job{}).Where("runner_id = ?", runnerID).
			Update("runner_id", nil).Error; err != nil {
			return err
		}
		return t.Delete(&types.Runner{}, "id = ?", runnerID).Error
	})
}
