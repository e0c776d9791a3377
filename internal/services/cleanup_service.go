package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/mailer"
	"github.com/voxbridge/voxbridge-backend/internal/repos"
)

// CleanupConfig controls the retention sweeps. A nil retention disables
// the corresponding sweep entirely.
type CleanupConfig struct {
	JobRetentionDays  *int
	UserRetentionDays *int
}

// CleanupService runs the daily maintenance sweeps. Each sweep claims a
// 24h slot in the metadata row first so that only one instance performs
// it, no matter how many replicas are running.
type CleanupService struct {
	log      *logger.Logger
	cfg      CleanupConfig
	cron     gocron.Scheduler
	metadata repos.MetadataRepo
	jobRepo  repos.JobRepo
	audio    repos.AudioRepo
	settings repos.SettingsRepo
	users    repos.UserRepo
	mail     mailer.Client
}

func NewCleanupService(
	baseLog *logger.Logger,
	cfg CleanupConfig,
	metadataRepo repos.MetadataRepo,
	jobRepo repos.JobRepo,
	audioRepo repos.AudioRepo,
	settingsRepo repos.SettingsRepo,
	userRepo repos.UserRepo,
	mail mailer.Client,
) (*CleanupService, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &CleanupService{
		log:      baseLog.With("service", "CleanupService"),
		cfg:      cfg,
		cron:     cron,
		metadata: metadataRepo,
		jobRepo:  jobRepo,
		audio:    audioRepo,
		settings: settingsRepo,
		users:    userRepo,
		mail:     mail,
	}, nil
}

// Start schedules the sweeps and begins running them. The general sweep
// always runs; the retention sweeps only when configured.
func (cs *CleanupService) Start() error {
	if err := cs.schedule("general", 3, cs.runGeneral); err != nil {
		return err
	}
	if cs.cfg.JobRetentionDays != nil {
		if err := cs.schedule("jobs", 4, cs.runJobs); err != nil {
			return err
		}
	}
	if cs.cfg.UserRetentionDays != nil {
		if err := cs.schedule("users", 5, cs.runUsers); err != nil {
			return err
		}
	}
	cs.cron.Start()
	return nil
}

func (cs *CleanupService) Stop() error {
	return cs.cron.Shutdown()
}

func (cs *CleanupService) schedule(name string, hour uint, task func(context.Context)) error {
	_, err := cs.cron.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, 0, 0))),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			task(ctx)
		}),
		gocron.WithTags(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s cleanup: %w", name, err)
	}
	return nil
}

// claim acquires the sweep's daily slot; false means another instance
// already ran it.
func (cs *CleanupService) claim(ctx context.Context, kind repos.CleanupKind) bool {
	err := cs.metadata.ClaimCleanup(ctx, nil, kind, 23*time.Hour)
	if err == nil {
		return true
	}
	if errors.Is(err, repos.ErrCleanupTooSoon) {
		cs.log.Debug("Cleanup already claimed", "kind", kind)
	} else {
		cs.log.Error("Failed to claim cleanup slot", "kind", kind, "error", err)
	}
	return false
}

// runGeneral drops audio blobs no job references and orphaned non-default
// settings. Both can accumulate when deletes race with runner activity.
func (cs *CleanupService) runGeneral(ctx context.Context) {
	if !cs.claim(ctx, repos.CleanupGeneral) {
		return
	}
	blobIDs, err := cs.audio.OrphanBlobIDs(ctx, nil)
	if err != nil {
		cs.log.Error("Failed to list orphan blobs", "error", err)
		return
	}
	for _, id := range blobIDs {
		if err := cs.audio.DeleteBlob(ctx, nil, id); err != nil {
			cs.log.Error("Failed to delete orphan blob", "blobID", id, "error", err)
		}
	}
	removedSettings, err := cs.settings.DeleteOrphanNonDefault(ctx, nil, nil)
	if err != nil {
		cs.log.Error("Failed to delete orphan settings", "error", err)
		return
	}
	cs.log.Info("General cleanup finished", "orphanBlobs", len(blobIDs), "orphanSettings", removedSettings)
}

func (cs *CleanupService) runJobs(ctx context.Context) {
	if !cs.claim(ctx, repos.CleanupJobs) {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -*cs.cfg.JobRetentionDays)
	removed, err := cs.jobRepo.DeleteFinishedBefore(ctx, nil, cutoff)
	if err != nil {
		cs.log.Error("Failed to delete expired jobs", "error", err)
		return
	}
	cs.log.Info("Job retention cleanup finished", "removed", removed, "cutoff", cutoff)
}

// runUsers deletes accounts idle past the retention window and mails the
// ones approaching it. Each warning window is one day wide, so the daily
// cadence sends each warning exactly once.
func (cs *CleanupService) runUsers(ctx context.Context) {
	if !cs.claim(ctx, repos.CleanupUsers) {
		return
	}
	retention := *cs.cfg.UserRetentionDays
	now := time.Now()

	stale, err := cs.users.StaleSince(ctx, nil, now.AddDate(0, 0, -retention))
	if err != nil {
		cs.log.Error("Failed to list stale users", "error", err)
		return
	}
	if len(stale) > 0 {
		ids := make([]int64, 0, len(stale))
		for _, u := range stale {
			ids = append(ids, u.ID)
		}
		if err := cs.users.DeleteByIDs(ctx, nil, ids); err != nil {
			cs.log.Error("Failed to delete stale users", "error", err)
			return
		}
		cs.log.Info("User retention cleanup removed accounts", "count", len(ids))
	}

	if cs.mail.Enabled() {
		cs.warnExpiring(ctx, retention, 30, now)
		cs.warnExpiring(ctx, retention, 7, now)
	}
}

func (cs *CleanupService) warnExpiring(ctx context.Context, retention, daysLeft int, now time.Time) {
	older, err := cs.users.StaleSince(ctx, nil, now.AddDate(0, 0, -(retention-daysLeft)))
	if err != nil {
		cs.log.Error("Failed to list expiring users", "error", err)
		return
	}
	newer, err := cs.users.StaleSince(ctx, nil, now.AddDate(0, 0, -(retention-daysLeft+1)))
	if err != nil {
		cs.log.Error("Failed to list expiring users", "error", err)
		return
	}
	beyond := map[int64]bool{}
	for _, u := range newer {
		beyond[u.ID] = true
	}
	for _, u := range older {
		if beyond[u.ID] {
			continue
		}
		msg := mailer.Message{
			ToEmail: u.Email,
			Subject: fmt.Sprintf("Your account will be deleted in %d days", daysLeft),
			Body: fmt.Sprintf(
				"Your account has been inactive for a while and will be deleted in %d days. Log in to keep it.",
				daysLeft),
		}
		if err := cs.mail.Send(ctx, msg); err != nil {
			cs.log.Warn("Failed to send expiry warning", "userID", u.ID, "error", err)
		}
	}
}
