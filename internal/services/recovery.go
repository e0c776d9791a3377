package services

import (
	"context"
	"fmt"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/dispatcher"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/repos"
)

// RecoveryService reconciles the durable store with the ephemeral one at
// startup: every unfinished job must either be held by a live runner, sit
// in the queue, or get finalised. The pass is idempotent; running it
// against an already-consistent state changes nothing.
type RecoveryService interface {
	Recover(ctx context.Context) error
}

type recoveryService struct {
	log      *logger.Logger
	jobRepo  repos.JobRepo
	store    *cache.Store
	dispatch *dispatcher.Dispatcher
}

func NewRecoveryService(
	baseLog *logger.Logger,
	jobRepo repos.JobRepo,
	store *cache.Store,
	dispatch *dispatcher.Dispatcher,
) RecoveryService {
	return &recoveryService{
		log:      baseLog.With("service", "RecoveryService"),
		jobRepo:  jobRepo,
		store:    store,
		dispatch: dispatch,
	}
}

func (rs *recoveryService) Recover(ctx context.Context) error {
	unfinished, err := rs.jobRepo.GetAllUnfinished(ctx, nil)
	if err != nil {
		return fmt.Errorf("list unfinished jobs: %w", err)
	}

	requeued := 0
	for _, job := range unfinished {
		// A live in-process record means a runner still holds the job;
		// leave the pair alone.
		held, err := rs.store.InProcessExists(ctx, job.ID)
		if err != nil {
			return err
		}
		if held {
			continue
		}

		if job.Aborting {
			// The abort never completed before the restart; finalise it now.
			if err := rs.jobRepo.FinishFailed(ctx, nil, job.ID, abortedErrorMsg, nil); err != nil {
				rs.log.Error("Failed to finalise aborting job", "jobID", job.ID, "error", err)
				continue
			}
			if err := rs.store.PublishEvent(ctx, job.UserID, cache.EventJobUpdated, job.ID); err != nil {
				rs.log.Warn("Failed to publish recovery finalisation", "jobID", job.ID, "error", err)
			}
			continue
		}

		if _, queued, err := rs.store.QueueScore(ctx, job.ID); err != nil {
			return err
		} else if queued {
			continue
		}
		if err := rs.store.EnqueueJob(ctx, job.ID, job.UserID, float64(-job.ID), ""); err != nil {
			return fmt.Errorf("re-enqueue job %d: %w", job.ID, err)
		}
		requeued++
	}

	if requeued > 0 {
		rs.log.Info("Recovery re-enqueued jobs", "count", requeued)
	}
	rs.dispatch.TryAssignAny(ctx)
	return nil
}
