package app

import (
	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/dispatcher"
	"github.com/voxbridge/voxbridge-backend/internal/handlers"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/mailer"
	"github.com/voxbridge/voxbridge-backend/internal/services"
	"github.com/voxbridge/voxbridge-backend/internal/sse"
)

type Services struct {
	Auth     services.AuthService
	Job      services.JobService
	Runner   services.RunnerService
	Settings services.SettingsService
	Recovery services.RecoveryService
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	r Repos,
	store *cache.Store,
	dispatch *dispatcher.Dispatcher,
	mail mailer.Client,
) Services {
	return Services{
		Auth: services.NewAuthService(db, log, r.User, r.TokenSecret,
			cfg.SessionExpiration, cfg.RollingRefresh),
		Job: services.NewJobService(db, log, r.Job, r.Audio, r.Settings,
			r.Transcript, store, dispatch, cfg.AudioChunkBytes),
		Runner: services.NewRunnerService(db, log, r.Runner, r.Job, r.Audio,
			r.Settings, r.User, store, dispatch, mail),
		Settings: services.NewSettingsService(log, r.Settings),
		Recovery: services.NewRecoveryService(log, r.Job, store, dispatch),
	}
}

func newAuthHandler(s Services) *handlers.AuthHandler {
	return handlers.NewAuthHandler(s.Auth)
}

func newJobHandler(s Services) *handlers.JobHandler {
	return handlers.NewJobHandler(s.Job)
}

func newSettingsHandler(s Services) *handlers.SettingsHandler {
	return handlers.NewSettingsHandler(s.Settings)
}

func newRunnerHandler(log *logger.Logger, s Services) *handlers.RunnerHandler {
	return handlers.NewRunnerHandler(log, s.Runner)
}

func newEventHandler(hub *sse.Hub) *handlers.EventHandler {
	return handlers.NewEventHandler(hub)
}
