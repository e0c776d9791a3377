package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/voxbridge/voxbridge-backend/internal/handlers"
	"github.com/voxbridge/voxbridge-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName     string
	AllowOrigins    []string
	AuthHandler     *handlers.AuthHandler
	AuthMiddleware  *middleware.AuthMiddleware
	JobHandler      *handlers.JobHandler
	SettingsHandler *handlers.SettingsHandler
	RunnerHandler   *handlers.RunnerHandler
	EventHandler    *handlers.EventHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.AttachTraceContext())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Session-Token"},
		ExposeHeaders:    []string{"X-Refreshed-Token"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")

	// Public
	api.POST("/auth/register", cfg.AuthHandler.Register)
	api.POST("/auth/login", cfg.AuthHandler.Login)

	// Runner surface; authenticated by runner credential, not user token.
	runners := api.Group("/runners")
	{
		runners.POST("/register", cfg.RunnerHandler.Register)
		runners.POST("/unregister", cfg.RunnerHandler.Unregister)
		runners.GET("/retrieve_job_info", cfg.RunnerHandler.RetrieveJobInfo)
		runners.POST("/retrieve_job_audio", cfg.RunnerHandler.RetrieveJobAudio)
		runners.POST("/submit_job_result", cfg.RunnerHandler.SubmitJobResult)
		runners.POST("/heartbeat", cfg.RunnerHandler.Heartbeat)
	}

	// User surface
	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	{
		protected.POST("/auth/logout", cfg.AuthHandler.Logout)

		protected.POST("/jobs/submit_job", cfg.JobHandler.SubmitJob)
		protected.GET("/jobs/count", cfg.JobHandler.Count)
		protected.GET("/jobs/top_k", cfg.JobHandler.TopK)
		protected.GET("/jobs/info", cfg.JobHandler.Info)
		protected.POST("/jobs/abort", cfg.JobHandler.Abort)
		protected.DELETE("/jobs/delete", cfg.JobHandler.Delete)
		protected.GET("/jobs/get_transcript", cfg.JobHandler.GetTranscript)
		protected.GET("/jobs/events", cfg.EventHandler.Stream)

		protected.POST("/settings/create", cfg.SettingsHandler.Create)
		protected.GET("/settings/list", cfg.SettingsHandler.List)
		protected.POST("/settings/set_default", cfg.SettingsHandler.SetDefault)
	}

	// Admin
	admin := api.Group("/admin")
	admin.Use(cfg.AuthMiddleware.RequireAuth(), cfg.AuthMiddleware.RequireAdmin())
	{
		admin.POST("/runners/create", cfg.RunnerHandler.Create)
	}

	return router
}
