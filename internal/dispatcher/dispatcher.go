package dispatcher

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxbridge/voxbridge-backend/internal/cache"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
)

var tracer = otel.Tracer("voxbridge/dispatcher")

// OwnerFunc resolves a job's owner from the durable store.
type OwnerFunc func(ctx context.Context, jobID int64) (int64, error)

// Dispatcher pairs free runners with pending jobs. It keeps no state of its
// own; everything lives in the ephemeral store, so any worker can run
// either trigger at any time.
type Dispatcher struct {
	store *cache.Store
	owner OwnerFunc
	log   *logger.Logger
}

func New(store *cache.Store, owner OwnerFunc, baseLog *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store: store,
		owner: owner,
		log:   baseLog.With("component", "Dispatcher"),
	}
}

// TryAssign attempts to pair the given job with a free runner now. Popped
// runners whose record has expired are discarded; live ones that raced into
// an assignment are put back once the loop is done, so the pop cannot see
// them again. When no runner is usable the job simply stays in the queue.
func (d *Dispatcher) TryAssign(ctx context.Context, jobID, userID int64) {
	ctx, span := tracer.Start(ctx, "dispatcher.TryAssign",
		trace.WithAttributes(attribute.Int64("job.id", jobID)))
	defer span.End()

	var busy []*cache.OnlineRunner
	defer func() {
		for _, runner := range busy {
			if err := d.store.ReinsertRunner(ctx, runner.ID, runner.Priority); err != nil {
				d.log.Warn("Failed to re-insert busy runner", "runnerID", runner.ID, "error", err)
			}
		}
	}()

	for {
		runnerID, ok, err := d.store.PopTopRunner(ctx)
		if err != nil {
			d.log.Warn("Failed to pop runner priority set", "error", err)
			return
		}
		if !ok {
			return
		}
		runner, err := d.store.GetRunner(ctx, runnerID)
		if err != nil {
			d.log.Warn("Failed to read runner record", "runnerID", runnerID, "error", err)
			return
		}
		if runner == nil {
			// TTL expired between insert and pop.
			continue
		}
		if runner.AssignedJobID != nil {
			busy = append(busy, runner)
			continue
		}
		if err := d.store.AssignJob(ctx, runnerID, jobID, userID); err != nil {
			d.log.Warn("Failed to assign job", "jobID", jobID, "runnerID", runnerID, "error", err)
			return
		}
		d.log.Info("Assigned job to runner", "jobID", jobID, "runnerID", runnerID)
		return
	}
}

// TryAssignAny walks the queue from highest to lowest priority and tries to
// place every job that is not already with a runner.
func (d *Dispatcher) TryAssignAny(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "dispatcher.TryAssignAny")
	defer span.End()

	jobIDs, err := d.store.QueuedJobsDesc(ctx)
	if err != nil {
		d.log.Warn("Failed to read job queue", "error", err)
		return
	}
	for _, jobID := range jobIDs {
		inProcess, err := d.store.InProcessExists(ctx, jobID)
		if err != nil {
			d.log.Warn("Failed to check in-process record", "jobID", jobID, "error", err)
			return
		}
		if inProcess {
			continue
		}
		userID, err := d.owner(ctx, jobID)
		if err != nil {
			// Queue entry without a durable row: the stores disagree, and
			// the queue side loses.
			d.log.Error("Queued job has no durable row; dropping queue entry",
				"queueKey", "job_queue_sorted", "jobID", jobID, "error", err)
			if _, rerr := d.store.RemoveQueuedJob(ctx, jobID); rerr != nil {
				d.log.Warn("Failed to drop queue entry", "jobID", jobID, "error", rerr)
			}
			continue
		}
		d.TryAssign(ctx, jobID, userID)
	}
}
