package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/repos"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

type SettingsService interface {
	Create(ctx context.Context, userID int64, settings *types.JobSettings) (*types.JobSettings, error)
	List(ctx context.Context, userID int64) ([]*types.JobSettings, error)
	SetDefault(ctx context.Context, userID, settingsID int64) error
}

type settingsService struct {
	log      *logger.Logger
	settings repos.SettingsRepo
}

func NewSettingsService(baseLog *logger.Logger, settingsRepo repos.SettingsRepo) SettingsService {
	return &settingsService{
		log:      baseLog.With("service", "SettingsService"),
		settings: settingsRepo,
	}
}

func (ss *settingsService) Create(ctx context.Context, userID int64, settings *types.JobSettings) (*types.JobSettings, error) {
	if settings.Model == "" {
		return nil, fmt.Errorf("%w: model must be set", ErrValidation)
	}
	settings.ID = 0
	settings.UserID = userID
	makeDefault := settings.IsDefault
	settings.IsDefault = false

	created, err := ss.settings.Create(ctx, nil, settings)
	if err != nil {
		return nil, fmt.Errorf("create settings: %w", err)
	}
	// The default flag moves through SetDefault so the single-default
	// invariant holds even when two creates race.
	if makeDefault {
		if err := ss.settings.SetDefault(ctx, nil, userID, created.ID); err != nil {
			return nil, err
		}
		created.IsDefault = true
	}
	return created, nil
}

func (ss *settingsService) List(ctx context.Context, userID int64) ([]*types.JobSettings, error) {
	return ss.settings.ListByUser(ctx, nil, userID)
}

func (ss *settingsService) SetDefault(ctx context.Context, userID, settingsID int64) error {
	err := ss.settings.SetDefault(ctx, nil, userID, settingsID)
	if errors.Is(err, repos.ErrSettingsNotFound) {
		return fmt.Errorf("%w: settings %d", ErrNotFound, settingsID)
	}
	return err
}
