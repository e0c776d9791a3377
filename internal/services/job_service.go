package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/dispatcher"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/repos"
	"github.com/voxbridge/voxbridge-backend/internal/requestdata"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

// abortedErrorMsg is the error recorded on jobs that were aborted before a
// runner could report a result.
const abortedErrorMsg = "Job was aborted"

type JobService interface {
	// Submit streams the audio into the durable store, enqueues the job
	// and pokes the dispatcher.
	Submit(ctx context.Context, userID int64, fileName, contentType string, audio io.Reader, settingsID *int64) (*types.Job, error)
	Abort(ctx context.Context, rd *requestdata.RequestData, jobID int64) error
	Delete(ctx context.Context, rd *requestdata.RequestData, jobIDs []int64) error
	Count(ctx context.Context, rd *requestdata.RequestData, userID int64) (int64, error)
	TopK(ctx context.Context, rd *requestdata.RequestData, userID int64, k int) ([]*types.Job, error)
	Info(ctx context.Context, rd *requestdata.RequestData, jobIDs []int64) ([]*types.Job, error)
	GetTranscript(ctx context.Context, rd *requestdata.RequestData, jobID int64, format types.TranscriptFormat) (*types.Transcript, error)
}

type jobService struct {
	db         *gorm.DB
	log        *logger.Logger
	jobRepo    repos.JobRepo
	audioRepo  repos.AudioRepo
	settings   repos.SettingsRepo
	transcript repos.TranscriptRepo
	store      *cache.Store
	dispatch   *dispatcher.Dispatcher
	chunkSize  int
}

func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobRepo repos.JobRepo,
	audioRepo repos.AudioRepo,
	settingsRepo repos.SettingsRepo,
	transcriptRepo repos.TranscriptRepo,
	store *cache.Store,
	dispatch *dispatcher.Dispatcher,
	chunkSize int,
) JobService {
	return &jobService{
		db:         db,
		log:        baseLog.With("service", "JobService"),
		jobRepo:    jobRepo,
		audioRepo:  audioRepo,
		settings:   settingsRepo,
		transcript: transcriptRepo,
		store:      store,
		dispatch:   dispatch,
		chunkSize:  chunkSize,
	}
}

func (js *jobService) Submit(ctx context.Context, userID int64, fileName, contentType string, audio io.Reader, settingsID *int64) (*types.Job, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(ct, "audio") && !strings.HasPrefix(ct, "video") {
		return nil, fmt.Errorf("%w: content type %q is not audio or video", ErrValidation, contentType)
	}

	if settingsID != nil {
		if _, err := js.settings.GetOwned(ctx, nil, userID, *settingsID); err != nil {
			if errors.Is(err, repos.ErrSettingsNotFound) {
				return nil, fmt.Errorf("%w: settings %d", ErrNotFound, *settingsID)
			}
			return nil, err
		}
	} else {
		def, err := js.settings.GetDefault(ctx, nil, userID)
		if err != nil && !errors.Is(err, repos.ErrSettingsNotFound) {
			return nil, err
		}
		if def != nil {
			settingsID = &def.ID
		}
	}

	var job *types.Job
	err := js.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		blobID, err := js.audioRepo.WriteBlob(ctx, tx, audio, js.chunkSize)
		if err != nil {
			return fmt.Errorf("write audio blob: %w", err)
		}
		job = &types.Job{
			UserID:      userID,
			SettingsID:  settingsID,
			FileName:    fileName,
			AudioBlobID: &blobID,
		}
		if _, err := js.jobRepo.Create(ctx, tx, job); err != nil {
			return fmt.Errorf("create job row: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Newer jobs sort below older ones: the enqueue priority is the
	// negated id.
	if err := js.store.EnqueueJob(ctx, job.ID, userID, float64(-job.ID), cache.EventJobCreated); err != nil {
		js.log.Error("Job persisted but not enqueued; recovery will pick it up",
			"jobID", job.ID, "error", err)
		return job, nil
	}
	js.dispatch.TryAssign(ctx, job.ID, userID)
	return job, nil
}

func (js *jobService) Abort(ctx context.Context, rd *requestdata.RequestData, jobID int64) error {
	job, err := js.ownedJob(ctx, rd, jobID)
	if err != nil {
		return err
	}
	if job.Finished() {
		return fmt.Errorf("%w: job %d already finished", ErrConflict, jobID)
	}

	if err := js.jobRepo.MarkAborting(ctx, nil, jobID); err != nil {
		return fmt.Errorf("mark aborting: %w", err)
	}

	inProcess, err := js.store.InProcessExists(ctx, jobID)
	if err != nil {
		return fmt.Errorf("check in-process record: %w", err)
	}
	if inProcess {
		// The runner observes the flag on its next heartbeat; the
		// finalisation path records the failure.
		return js.store.SetAbort(ctx, jobID, job.UserID)
	}

	// Queued but unassigned: drop the queue entry and finalise directly.
	if _, err := js.store.RemoveQueuedJob(ctx, jobID); err != nil {
		return fmt.Errorf("drop queue entry: %w", err)
	}
	if err := js.jobRepo.FinishFailed(ctx, nil, jobID, abortedErrorMsg, nil); err != nil {
		return fmt.Errorf("finalise aborted job: %w", err)
	}
	return js.store.PublishEvent(ctx, job.UserID, cache.EventJobUpdated, jobID)
}

func (js *jobService) Delete(ctx context.Context, rd *requestdata.RequestData, jobIDs []int64) error {
	if len(jobIDs) == 0 {
		return nil
	}
	jobs, err := js.jobRepo.GetByIDs(ctx, nil, jobIDs)
	if err != nil {
		return err
	}
	if len(jobs) != len(jobIDs) {
		return fmt.Errorf("%w: some jobs do not exist", ErrNotFound)
	}
	owners := map[int64][]int64{}
	for _, job := range jobs {
		if job.UserID != rd.UserID && !rd.Admin {
			return fmt.Errorf("%w: job %d belongs to another user", ErrForbidden, job.ID)
		}
		if !job.Finished() {
			return fmt.Errorf("%w: job %d is still running", ErrConflict, job.ID)
		}
		owners[job.UserID] = append(owners[job.UserID], job.ID)
	}
	err = js.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := js.jobRepo.DeleteByIDs(ctx, tx, jobIDs); err != nil {
			return err
		}
		for userID := range owners {
			uid := userID
			if _, err := js.settings.DeleteOrphanNonDefault(ctx, tx, &uid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for userID, ids := range owners {
		for _, id := range ids {
			if perr := js.store.PublishEvent(ctx, userID, cache.EventJobDeleted, id); perr != nil {
				js.log.Warn("Failed to publish job_deleted", "jobID", id, "error", perr)
			}
		}
	}
	return nil
}

func (js *jobService) Count(ctx context.Context, rd *requestdata.RequestData, userID int64) (int64, error) {
	if userID != rd.UserID && !rd.Admin {
		return 0, fmt.Errorf("%w: cannot read another user's jobs", ErrForbidden)
	}
	return js.jobRepo.CountByUser(ctx, nil, userID)
}

func (js *jobService) TopK(ctx context.Context, rd *requestdata.RequestData, userID int64, k int) ([]*types.Job, error) {
	if userID != rd.UserID && !rd.Admin {
		return nil, fmt.Errorf("%w: cannot read another user's jobs", ErrForbidden)
	}
	if k <= 0 || k > 1000 {
		return nil, fmt.Errorf("%w: k must be in 1..1000", ErrValidation)
	}
	return js.jobRepo.TopKByUser(ctx, nil, userID, k)
}

func (js *jobService) Info(ctx context.Context, rd *requestdata.RequestData, jobIDs []int64) ([]*types.Job, error) {
	jobs, err := js.jobRepo.GetByIDs(ctx, nil, jobIDs)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.UserID != rd.UserID && !rd.Admin {
			return nil, fmt.Errorf("%w: job %d belongs to another user", ErrForbidden, job.ID)
		}
	}
	return jobs, nil
}

func (js *jobService) GetTranscript(ctx context.Context, rd *requestdata.RequestData, jobID int64, format types.TranscriptFormat) (*types.Transcript, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: unknown transcript format %q", ErrValidation, format)
	}
	ownerID := rd.UserID
	if rd.Admin {
		resolved, err := js.jobRepo.OwnerOf(ctx, nil, jobID)
		if err != nil {
			return nil, fmt.Errorf("%w: job %d", ErrNotFound, jobID)
		}
		ownerID = resolved
	}
	transcript, err := js.transcript.GetAndMarkDownloaded(ctx, nil, ownerID, jobID)
	if err != nil {
		if errors.Is(err, repos.ErrJobNotFound) || errors.Is(err, repos.ErrTranscriptNotFound) {
			return nil, fmt.Errorf("%w: transcript for job %d", ErrNotFound, jobID)
		}
		return nil, err
	}
	return transcript, nil
}

func (js *jobService) ownedJob(ctx context.Context, rd *requestdata.RequestData, jobID int64) (*types.Job, error) {
	job, err := js.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, repos.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: job %d", ErrNotFound, jobID)
		}
		return nil, err
	}
	if job.UserID != rd.UserID && !rd.Admin {
		return nil, fmt.Errorf("%w: job %d belongs to another user", ErrForbidden, jobID)
	}
	return job, nil
}
