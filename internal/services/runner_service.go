package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/dispatcher"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/mailer"
	"github.com/voxbridge/voxbridge-backend/internal/repos"
	"github.com/voxbridge/voxbridge-backend/internal/types"
	"github.com/voxbridge/voxbridge-backend/internal/utils"
)

// RunnerDeclaration is the metadata a runner announces at registration.
type RunnerDeclaration struct {
	Name      string  `json:"name"`
	Version   string  `json:"version"`
	GitHash   string  `json:"git_hash"`
	SourceURL string  `json:"source_url"`
	Priority  float64 `json:"priority"`
}

type RegisterResult struct {
	RunnerID     int64  `json:"id"`
	SessionToken string `json:"session_token"`
}

type JobInfo struct {
	JobID    int64              `json:"id"`
	Settings *types.JobSettings `json:"settings"`
}

// JobResult is what a runner submits on completion: a transcript on
// success, an error message on failure.
type JobResult struct {
	Transcript *types.Transcript
	ErrorMsg   *string
}

type HeartbeatResult struct {
	Abort       bool `json:"abort"`
	JobAssigned bool `json:"job_assigned"`
}

// AudioStream hands the audio chunk iterator to the transport layer.
type AudioStream struct {
	FileName string
	Chunks   *repos.ChunkReader
}

type RunnerService interface {
	// CreateIdentity accredits a new runner and returns its one-time
	// visible credential.
	CreateIdentity(ctx context.Context) (int64, string, error)
	Register(ctx context.Context, runnerToken string, decl RunnerDeclaration) (*RegisterResult, error)
	Unregister(ctx context.Context, runnerToken, sessionToken string) error
	RetrieveJobInfo(ctx context.Context, runnerToken, sessionToken string) (*JobInfo, error)
	RetrieveJobAudio(ctx context.Context, runnerToken, sessionToken string) (*AudioStream, error)
	SubmitResult(ctx context.Context, runnerToken, sessionToken string, result JobResult) error
	Heartbeat(ctx context.Context, runnerToken, sessionToken string, progress float64) (*HeartbeatResult, error)
}

type runnerService struct {
	db         *gorm.DB
	log        *logger.Logger
	runnerRepo repos.RunnerRepo
	jobRepo    repos.JobRepo
	audioRepo  repos.AudioRepo
	settings   repos.SettingsRepo
	userRepo   repos.UserRepo
	store      *cache.Store
	dispatch   *dispatcher.Dispatcher
	mail       mailer.Client
}

func NewRunnerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	runnerRepo repos.RunnerRepo,
	jobRepo repos.JobRepo,
	audioRepo repos.AudioRepo,
	settingsRepo repos.SettingsRepo,
	userRepo repos.UserRepo,
	store *cache.Store,
	dispatch *dispatcher.Dispatcher,
	mail mailer.Client,
) RunnerService {
	return &runnerService{
		db:         db,
		log:        baseLog.With("service", "RunnerService"),
		runnerRepo: runnerRepo,
		jobRepo:    jobRepo,
		audioRepo:  audioRepo,
		settings:   settingsRepo,
		userRepo:   userRepo,
		store:      store,
		dispatch:   dispatch,
		mail:       mail,
	}
}

func (rs *runnerService) CreateIdentity(ctx context.Context) (int64, string, error) {
	raw, hash, err := utils.GenerateToken()
	if err != nil {
		return 0, "", err
	}
	runner, err := rs.runnerRepo.Create(ctx, nil, &types.Runner{TokenHash: hash})
	if err != nil {
		return 0, "", fmt.Errorf("create runner identity: %w", err)
	}
	return runner.ID, raw, nil
}

// credential resolves the long-lived runner token to its durable identity.
func (rs *runnerService) credential(ctx context.Context, runnerToken string) (*types.Runner, error) {
	runner, err := rs.runnerRepo.GetByTokenHash(ctx, nil, utils.HashToken(runnerToken))
	if err != nil {
		if errors.Is(err, repos.ErrRunnerNotFound) {
			return nil, fmt.Errorf("%w: unknown runner token", ErrUnauthorized)
		}
		return nil, err
	}
	return runner, nil
}

// session resolves credential plus session token to the live ephemeral
// record. A recognised runner without a record has expired or never
// registered; a wrong session token means the credential is in use by
// another session.
func (rs *runnerService) session(ctx context.Context, runnerToken, sessionToken string) (*cache.OnlineRunner, error) {
	identity, err := rs.credential(ctx, runnerToken)
	if err != nil {
		return nil, err
	}
	online, err := rs.store.GetRunner(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if online == nil {
		return nil, fmt.Errorf("%w: runner %d is not online", ErrForbidden, identity.ID)
	}
	if !utils.TokenHashEqual(sessionToken, online.SessionTokenHash) {
		return nil, ErrSessionMismatch
	}
	return online, nil
}

func (rs *runnerService) Register(ctx context.Context, runnerToken string, decl RunnerDeclaration) (*RegisterResult, error) {
	identity, err := rs.credential(ctx, runnerToken)
	if err != nil {
		return nil, err
	}
	existing, err := rs.store.GetRunner(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: runner %d", ErrAlreadyOnline, identity.ID)
	}

	sessionToken, sessionHash, err := utils.GenerateToken()
	if err != nil {
		return nil, err
	}
	record := &cache.OnlineRunner{
		ID:               identity.ID,
		Name:             decl.Name,
		Version:          decl.Version,
		GitHash:          decl.GitHash,
		SourceURL:        decl.SourceURL,
		Priority:         decl.Priority,
		SessionTokenHash: sessionHash,
	}
	if err := rs.store.RegisterRunner(ctx, record); err != nil {
		return nil, fmt.Errorf("register online runner: %w", err)
	}
	rs.log.Info("Runner registered", "runnerID", identity.ID, "name", decl.Name, "priority", decl.Priority)
	rs.dispatch.TryAssignAny(ctx)
	return &RegisterResult{RunnerID: identity.ID, SessionToken: sessionToken}, nil
}

func (rs *runnerService) Unregister(ctx context.Context, runnerToken, sessionToken string) error {
	online, err := rs.session(ctx, runnerToken, sessionToken)
	if err != nil {
		return err
	}

	var heldJobID *int64
	var ownerID int64
	if online.AssignedJobID != nil {
		heldJobID = online.AssignedJobID
		ipj, err := rs.store.GetInProcessJob(ctx, *heldJobID)
		if err != nil {
			return err
		}
		if ipj != nil {
			ownerID = ipj.UserID
		} else if resolved, oerr := rs.jobRepo.OwnerOf(ctx, nil, *heldJobID); oerr == nil {
			ownerID = resolved
		}
	}

	if err := rs.store.UnregisterRunner(ctx, online.ID, heldJobID, ownerID); err != nil {
		return fmt.Errorf("unregister online runner: %w", err)
	}
	rs.log.Info("Runner unregistered", "runnerID", online.ID)

	if heldJobID != nil {
		// The held job goes back to the queue at recovery priority and is
		// offered to whoever is free.
		if err := rs.store.EnqueueJob(ctx, *heldJobID, ownerID, float64(-*heldJobID), ""); err != nil {
			rs.log.Warn("Failed to re-enqueue held job", "jobID", *heldJobID, "error", err)
			return nil
		}
		rs.dispatch.TryAssignAny(ctx)
	}
	return nil
}

// assignedJob loads the durable row behind the runner's assignment,
// surfacing the state-machine errors of the retrieve operations.
func (rs *runnerService) assignedJob(ctx context.Context, online *cache.OnlineRunner) (*types.Job, error) {
	if online.AssignedJobID == nil {
		return nil, ErrNoAssignment
	}
	job, err := rs.jobRepo.GetByID(ctx, nil, *online.AssignedJobID)
	if err != nil {
		if errors.Is(err, repos.ErrJobNotFound) {
			rs.log.Error("Assignment without durable row",
				"onlineRunnerKey", fmt.Sprintf("online_runner:%d", online.ID),
				"jobID", *online.AssignedJobID)
			return nil, fmt.Errorf("%w: assignment %d has no durable row", ErrInternal, *online.AssignedJobID)
		}
		return nil, err
	}
	if job.Aborting {
		return nil, fmt.Errorf("%w: job %d", ErrJobAborting, job.ID)
	}
	return job, nil
}

func (rs *runnerService) RetrieveJobInfo(ctx context.Context, runnerToken, sessionToken string) (*JobInfo, error) {
	online, err := rs.session(ctx, runnerToken, sessionToken)
	if err != nil {
		return nil, err
	}
	job, err := rs.assignedJob(ctx, online)
	if err != nil {
		return nil, err
	}

	var settings *types.JobSettings
	if job.SettingsID != nil {
		settings, err = rs.settings.GetByID(ctx, nil, *job.SettingsID)
		if err != nil && !errors.Is(err, repos.ErrSettingsNotFound) {
			return nil, err
		}
	}
	if settings == nil {
		settings = &types.JobSettings{Model: "base"}
	}
	return &JobInfo{JobID: job.ID, Settings: settings}, nil
}

func (rs *runnerService) RetrieveJobAudio(ctx context.Context, runnerToken, sessionToken string) (*AudioStream, error) {
	online, err := rs.session(ctx, runnerToken, sessionToken)
	if err != nil {
		return nil, err
	}
	job, err := rs.assignedJob(ctx, online)
	if err != nil {
		return nil, err
	}
	if job.AudioBlobID == nil {
		rs.log.Error("Assigned job has no audio blob",
			"jobKey", fmt.Sprintf("in_process_job:%d", job.ID), "jobID", job.ID)
		return nil, fmt.Errorf("%w: job %d has no audio", ErrInternal, job.ID)
	}
	// Streaming the audio is the transition to in-progress; repeating the
	// download repeats the transition harmlessly.
	if err := rs.store.MarkInProgress(ctx, online.ID, job.ID); err != nil {
		return nil, err
	}
	return &AudioStream{
		FileName: job.FileName,
		Chunks:   rs.audioRepo.ChunkReader(ctx, nil, *job.AudioBlobID),
	}, nil
}

func (rs *runnerService) SubmitResult(ctx context.Context, runnerToken, sessionToken string, result JobResult) error {
	online, err := rs.session(ctx, runnerToken, sessionToken)
	if err != nil {
		return err
	}
	if online.AssignedJobID == nil || !online.InProcess {
		return ErrNotInProgress
	}
	jobID := *online.AssignedJobID
	ipj, err := rs.store.GetInProcessJob(ctx, jobID)
	if err != nil {
		return err
	}
	aborted := ipj != nil && ipj.Abort
	ownerID := int64(0)
	if ipj != nil {
		ownerID = ipj.UserID
	}

	snapshot := &types.RunnerSnapshot{
		ID:        online.ID,
		Name:      online.Name,
		Version:   online.Version,
		GitHash:   online.GitHash,
		SourceURL: online.SourceURL,
	}

	// Finalisation runs in the background: durable update, ephemeral
	// cleanup, redispatch and the courtesy mail. Delivery errors are
	// logged and swallowed; they must not crash the worker.
	go rs.finalize(online, jobID, ownerID, aborted, snapshot, result)
	return nil
}

func (rs *runnerService) finalize(online *cache.OnlineRunner, jobID, ownerID int64, aborted bool, snapshot *types.RunnerSnapshot, result JobResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch {
	case aborted:
		err = rs.jobRepo.FinishFailed(ctx, nil, jobID, abortedErrorMsg, snapshot)
	case result.ErrorMsg != nil:
		err = rs.jobRepo.FinishFailed(ctx, nil, jobID, *result.ErrorMsg, snapshot)
	case result.Transcript != nil:
		err = rs.jobRepo.FinishSuccessful(ctx, nil, jobID, snapshot, result.Transcript)
	default:
		err = fmt.Errorf("result carries neither transcript nor error")
	}
	if err != nil {
		rs.log.Error("Failed to finalise job", "jobID", jobID, "error", err)
		if !errors.Is(err, repos.ErrJobAlreadyFinished) {
			return
		}
	}

	if err := rs.store.FinalizeAssignment(ctx, online.ID, jobID, ownerID, online.Priority); err != nil {
		rs.log.Error("Failed to clear ephemeral assignment", "jobID", jobID, "runnerID", online.ID, "error", err)
	}
	rs.dispatch.TryAssignAny(ctx)

	if rs.mail.Enabled() && ownerID != 0 {
		rs.notifyOwner(ctx, ownerID, jobID, aborted, result)
	}
}

func (rs *runnerService) notifyOwner(ctx context.Context, ownerID, jobID int64, aborted bool, result JobResult) {
	owner, err := rs.userRepo.GetByID(ctx, nil, ownerID)
	if err != nil {
		rs.log.Warn("Cannot mail owner of finished job", "userID", ownerID, "error", err)
		return
	}
	subject := fmt.Sprintf("Transcription job %d finished", jobID)
	body := fmt.Sprintf("Your transcription job %d has finished and is ready for download.", jobID)
	if aborted || result.ErrorMsg != nil {
		subject = fmt.Sprintf("Transcription job %d failed", jobID)
		body = fmt.Sprintf("Your transcription job %d did not complete.", jobID)
	}
	if err := rs.mail.Send(ctx, mailer.Message{ToEmail: owner.Email, Subject: subject, Body: body}); err != nil {
		rs.log.Warn("Failed to send completion mail", "userID", ownerID, "error", err)
	}
}

func (rs *runnerService) Heartbeat(ctx context.Context, runnerToken, sessionToken string, progress float64) (*HeartbeatResult, error) {
	if progress < 0 || progress > 100 {
		return nil, fmt.Errorf("%w: progress %v out of range", ErrValidation, progress)
	}
	online, err := rs.session(ctx, runnerToken, sessionToken)
	if err != nil {
		return nil, err
	}
	if err := rs.store.RefreshTTL(ctx, online.ID, online.AssignedJobID); err != nil {
		return nil, err
	}
	if online.AssignedJobID == nil {
		return &HeartbeatResult{Abort: false, JobAssigned: false}, nil
	}

	jobID := *online.AssignedJobID
	ipj, err := rs.store.GetInProcessJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if ipj == nil {
		rs.log.Error("Runner assignment without in-process record",
			"onlineRunnerKey", fmt.Sprintf("online_runner:%d", online.ID),
			"jobKey", fmt.Sprintf("in_process_job:%d", jobID))
		return nil, fmt.Errorf("%w: in-process record for job %d missing", ErrInternal, jobID)
	}
	if ipj.Abort {
		return &HeartbeatResult{Abort: true, JobAssigned: false}, nil
	}
	if online.InProcess && progress != ipj.Progress {
		if err := rs.store.UpdateProgress(ctx, jobID, ipj.UserID, progress); err != nil {
			return nil, err
		}
	}
	return &HeartbeatResult{Abort: false, JobAssigned: true}, nil
}
