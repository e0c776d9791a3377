package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/utils"
)

const defaultChunkBytes = 10 * 1024 * 1024

// Config is the typed view of the environment. LoadConfig fails loudly on
// inconsistent values rather than running with surprising defaults.
type Config struct {
	Addr         string
	AllowOrigins []string

	HeartbeatTimeout time.Duration
	AudioChunkBytes  int

	SessionExpiration time.Duration
	RollingRefresh    time.Duration

	// Nil disables the corresponding retention sweep.
	JobRetentionDays  *int
	UserRetentionDays *int
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Addr:            utils.GetEnv("LISTEN_ADDR", ":8080", log),
		AudioChunkBytes: utils.GetEnvAsInt("AUDIO_CHUNK_BYTES", defaultChunkBytes, log),
	}

	origins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log)
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}

	heartbeat := utils.GetEnvAsInt("HEARTBEAT_TIMEOUT_SECONDS", 60, log)
	if heartbeat <= 0 {
		return cfg, fmt.Errorf("HEARTBEAT_TIMEOUT_SECONDS must be positive, got %d", heartbeat)
	}
	cfg.HeartbeatTimeout = time.Duration(heartbeat) * time.Second

	if cfg.AudioChunkBytes <= 0 {
		return cfg, fmt.Errorf("AUDIO_CHUNK_BYTES must be positive, got %d", cfg.AudioChunkBytes)
	}

	session := utils.GetEnvAsInt("SESSION_EXPIRATION_MINUTES", 60, log)
	if session < 15 {
		return cfg, fmt.Errorf("SESSION_EXPIRATION_MINUTES must be at least 15, got %d", session)
	}
	refresh := utils.GetEnvAsInt("ROLLING_REFRESH_MINUTES", 10, log)
	// The refresh window must stay well inside the session lifetime or
	// every request would mint a new token.
	if float64(refresh) > 0.4*float64(session) {
		return cfg, fmt.Errorf(
			"ROLLING_REFRESH_MINUTES (%d) must be at most 0.4x SESSION_EXPIRATION_MINUTES (%d)",
			refresh, session)
	}
	cfg.SessionExpiration = time.Duration(session) * time.Minute
	cfg.RollingRefresh = time.Duration(refresh) * time.Minute

	if days := utils.GetEnvAsInt("CLEANUP_FINISHED_JOB_RETENTION_DAYS", 0, nil); days > 0 {
		cfg.JobRetentionDays = &days
	}
	if days := utils.GetEnvAsInt("CLEANUP_USER_RETENTION_DAYS", 0, nil); days > 0 {
		if days < 90 {
			return cfg, fmt.Errorf("CLEANUP_USER_RETENTION_DAYS must be at least 90, got %d", days)
		}
		cfg.UserRetentionDays = &days
	}

	return cfg, nil
}
