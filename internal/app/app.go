package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/db"
	"github.com/voxbridge/voxbridge-backend/internal/dispatcher"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/mailer"
	"github.com/voxbridge/voxbridge-backend/internal/middleware"
	"github.com/voxbridge/voxbridge-backend/internal/observability"
	"github.com/voxbridge/voxbridge-backend/internal/server"
	"github.com/voxbridge/voxbridge-backend/internal/services"
	"github.com/voxbridge/voxbridge-backend/internal/sse"
	"github.com/voxbridge/voxbridge-backend/internal/utils"
	"github.com/voxbridge/voxbridge-backend/internal/version"
)

const serviceName = "voxbridge-backend"

// App owns every long-lived component. Lifecycle is New -> Start -> Run,
// then Close; Start and Close are idempotent.
type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Redis  *goredis.Client
	Router *gin.Engine
	Cfg    Config

	Repos    Repos
	Services Services
	Store    *cache.Store
	Bus      *cache.Bus
	Hub      *sse.Hub
	Dispatch *dispatcher.Dispatcher
	Cleanup  *services.CleanupService

	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     version.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.Provision(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("provision schema: %w", err)
	}
	theDB := pg.DB()

	rdb, err := cache.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	store := cache.NewStore(rdb, log, cfg.HeartbeatTimeout)
	bus := cache.NewBus(rdb, log)
	hub := sse.NewHub(log)
	mail := mailer.NewFromEnv(log)

	reposet := wireRepos(theDB, log)

	dispatch := dispatcher.New(store, func(ctx context.Context, jobID int64) (int64, error) {
		return reposet.Job.OwnerOf(ctx, nil, jobID)
	}, log)

	serviceset := wireServices(theDB, log, cfg, reposet, store, dispatch, mail)

	cleanup, err := services.NewCleanupService(log,
		services.CleanupConfig{
			JobRetentionDays:  cfg.JobRetentionDays,
			UserRetentionDays: cfg.UserRetentionDays,
		},
		reposet.Metadata, reposet.Job, reposet.Audio, reposet.Settings, reposet.User, mail)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init cleanup: %w", err)
	}

	router := wireRouter(log, cfg, serviceset, hub)

	return &App{
		Log:      log,
		DB:       theDB,
		Redis:    rdb,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		Store:    store,
		Bus:      bus,
		Hub:      hub,
		Dispatch: dispatch,
		Cleanup:  cleanup,

		otelShutdown: otelShutdown,
	}, nil
}

// Start runs the startup reconciliation, connects the event forwarder and
// arms the cleanup schedule.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.Services.Recovery.Recover(ctx); err != nil {
		cancel()
		a.cancel = nil
		return fmt.Errorf("startup recovery: %w", err)
	}
	if err := a.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		cancel()
		a.cancel = nil
		return fmt.Errorf("start event forwarder: %w", err)
	}
	if err := a.Cleanup.Start(); err != nil {
		cancel()
		a.cancel = nil
		return fmt.Errorf("start cleanup scheduler: %w", err)
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(a.Cfg.Addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Cleanup != nil {
		if err := a.Cleanup.Stop(); err != nil {
			a.Log.Warn("Cleanup scheduler shutdown failed", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("Redis close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("Tracer shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func wireRouter(log *logger.Logger, cfg Config, s Services, hub *sse.Hub) *gin.Engine {
	authMiddleware := middleware.NewAuthMiddleware(log, s.Auth)
	return server.NewRouter(server.RouterConfig{
		ServiceName:     serviceName,
		AllowOrigins:    cfg.AllowOrigins,
		AuthHandler:     newAuthHandler(s),
		AuthMiddleware:  authMiddleware,
		JobHandler:      newJobHandler(s),
		SettingsHandler: newSettingsHandler(s),
		RunnerHandler:   newRunnerHandler(log, s),
		EventHandler:    newEventHandler(hub),
	})
}
