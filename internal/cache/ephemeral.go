package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
)

const (
	runnersSortedKey  = "online_runners_sorted"
	jobQueueSortedKey = "job_queue_sorted"
)

func onlineRunnerKey(runnerID int64) string {
	return fmt.Sprintf("online_runner:%d", runnerID)
}

func inProcessJobKey(jobID int64) string {
	return fmt.Sprintf("in_process_job:%d", jobID)
}

// OnlineRunner is the liveness record of a registered runner. The record
// expires after the heartbeat timeout; the runner is a member of the
// priority set exactly while it has no assigned job.
type OnlineRunner struct {
	ID               int64
	Name             string
	Version          string
	GitHash          string
	SourceURL        string
	Priority         float64
	SessionTokenHash string
	AssignedJobID    *int64
	InProcess        bool
}

// InProcessJob tracks a job that has been handed to a runner and not yet
// finalised. It shares the runner record's TTL.
type InProcessJob struct {
	RunnerID int64
	UserID   int64
	Progress float64
	Abort    bool
}

// Store is the ephemeral half of the control plane. Every mutation that
// must be observed atomically is grouped into a single TxPipeline,
// including the event publish it causes.
type Store struct {
	rdb *goredis.Client
	log *logger.Logger
	ttl time.Duration
}

func NewStore(rdb *goredis.Client, baseLog *logger.Logger, heartbeatTimeout time.Duration) *Store {
	return &Store{
		rdb: rdb,
		log: baseLog.With("service", "EphemeralStore"),
		ttl: heartbeatTimeout,
	}
}

func (s *Store) Client() *goredis.Client {
	return s.rdb
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

func runnerFields(r *OnlineRunner) map[string]interface{} {
	assigned := ""
	if r.AssignedJobID != nil {
		assigned = strconv.FormatInt(*r.AssignedJobID, 10)
	}
	return map[string]interface{}{
		"id":                 r.ID,
		"name":               r.Name,
		"version":            r.Version,
		"git_hash":           r.GitHash,
		"source_url":         r.SourceURL,
		"priority":           r.Priority,
		"session_token_hash": r.SessionTokenHash,
		"assigned_job_id":    assigned,
		"in_process":         boolField(r.InProcess),
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseRunner(fields map[string]string) (*OnlineRunner, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("online runner record: bad id %q", fields["id"])
	}
	priority, err := strconv.ParseFloat(fields["priority"], 64)
	if err != nil {
		return nil, fmt.Errorf("online runner record: bad priority %q", fields["priority"])
	}
	r := &OnlineRunner{
		ID:               id,
		Name:             fields["name"],
		Version:          fields["version"],
		GitHash:          fields["git_hash"],
		SourceURL:        fields["source_url"],
		Priority:         priority,
		SessionTokenHash: fields["session_token_hash"],
		InProcess:        fields["in_process"] == "1",
	}
	if raw := fields["assigned_job_id"]; raw != "" {
		jobID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("online runner record: bad assigned_job_id %q", raw)
		}
		r.AssignedJobID = &jobID
	}
	return r, nil
}

func parseInProcessJob(fields map[string]string) (*InProcessJob, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	runnerID, err := strconv.ParseInt(fields["runner_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("in-process job record: bad runner_id %q", fields["runner_id"])
	}
	userID, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("in-process job record: bad user_id %q", fields["user_id"])
	}
	progress, err := strconv.ParseFloat(fields["progress"], 64)
	if err != nil {
		return nil, fmt.Errorf("in-process job record: bad progress %q", fields["progress"])
	}
	return &InProcessJob{
		RunnerID: runnerID,
		UserID:   userID,
		Progress: progress,
		Abort:    fields["abort"] == "1",
	}, nil
}

func (s *Store) publish(ctx context.Context, p goredis.Pipeliner, userID int64, kind EventKind, jobID int64) {
	payload, err := json.Marshal(Event{Kind: kind, JobID: jobID})
	if err != nil {
		s.log.Warn("Failed to marshal event", "error", err)
		return
	}
	p.Publish(ctx, eventChannel(userID), payload)
}

// PublishEvent emits an event outside of any state change (job deletion).
func (s *Store) PublishEvent(ctx context.Context, userID int64, kind EventKind, jobID int64) error {
	payload, err := json.Marshal(Event{Kind: kind, JobID: jobID})
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		return s.rdb.Publish(ctx, eventChannel(userID), payload).Err()
	})
}

// RegisterRunner writes the liveness record, arms its TTL and inserts the
// runner into the priority set, atomically.
func (s *Store) RegisterRunner(ctx context.Context, r *OnlineRunner) error {
	key := onlineRunnerKey(r.ID)
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, runnerFields(r))
			p.Expire(ctx, key, s.ttl)
			p.ZAdd(ctx, runnersSortedKey, goredis.Z{Score: r.Priority, Member: strconv.FormatInt(r.ID, 10)})
			return nil
		})
		return err
	})
}

func (s *Store) GetRunner(ctx context.Context, runnerID int64) (*OnlineRunner, error) {
	var fields map[string]string
	err := withRetry(ctx, func() error {
		var err error
		fields, err = s.rdb.HGetAll(ctx, onlineRunnerKey(runnerID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseRunner(fields)
}

func (s *Store) GetInProcessJob(ctx context.Context, jobID int64) (*InProcessJob, error) {
	var fields map[string]string
	err := withRetry(ctx, func() error {
		var err error
		fields, err = s.rdb.HGetAll(ctx, inProcessJobKey(jobID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseInProcessJob(fields)
}

func (s *Store) InProcessExists(ctx context.Context, jobID int64) (bool, error) {
	var n int64
	err := withRetry(ctx, func() error {
		var err error
		n, err = s.rdb.Exists(ctx, inProcessJobKey(jobID)).Result()
		return err
	})
	return n > 0, err
}

// PopTopRunner removes and returns the highest-priority member of the
// runner set. ok is false when the set is empty.
func (s *Store) PopTopRunner(ctx context.Context) (runnerID int64, ok bool, err error) {
	var popped []goredis.Z
	err = withRetry(ctx, func() error {
		var err error
		popped, err = s.rdb.ZPopMax(ctx, runnersSortedKey, 1).Result()
		return err
	})
	if err != nil || len(popped) == 0 {
		return 0, false, err
	}
	member, _ := popped[0].Member.(string)
	id, perr := strconv.ParseInt(member, 10, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("runner priority set: bad member %q", member)
	}
	return id, true, nil
}

// AssignJob pairs a popped runner with a job: assignment on the runner
// record, a fresh in-process record, queue removal and the job_updated
// publish, with both TTLs re-armed so the pair expires together.
func (s *Store) AssignJob(ctx context.Context, runnerID, jobID, userID int64) error {
	runnerKey := onlineRunnerKey(runnerID)
	jobKey := inProcessJobKey(jobID)
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, runnerKey, "assigned_job_id", strconv.FormatInt(jobID, 10), "in_process", "0")
			p.HSet(ctx, jobKey, map[string]interface{}{
				"runner_id": runnerID,
				"user_id":   userID,
				"progress":  0.0,
				"abort":     "0",
			})
			p.Expire(ctx, runnerKey, s.ttl)
			p.Expire(ctx, jobKey, s.ttl)
			p.ZRem(ctx, jobQueueSortedKey, strconv.FormatInt(jobID, 10))
			s.publish(ctx, p, userID, EventJobUpdated, jobID)
			return nil
		})
		return err
	})
}

// ReinsertRunner puts a runner back into the priority set (used when a
// popped runner turns out to be unusable but still alive).
func (s *Store) ReinsertRunner(ctx context.Context, runnerID int64, priority float64) error {
	return withRetry(ctx, func() error {
		return s.rdb.ZAdd(ctx, runnersSortedKey,
			goredis.Z{Score: priority, Member: strconv.FormatInt(runnerID, 10)}).Err()
	})
}

// EnqueueJob inserts the job into the queue and, when kind is non-empty,
// publishes the triggering event in the same transaction.
func (s *Store) EnqueueJob(ctx context.Context, jobID, userID int64, priority float64, kind EventKind) error {
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.ZAdd(ctx, jobQueueSortedKey, goredis.Z{Score: priority, Member: strconv.FormatInt(jobID, 10)})
			if kind != "" {
				s.publish(ctx, p, userID, kind, jobID)
			}
			return nil
		})
		return err
	})
}

// QueuedJobsDesc lists queued job ids from highest to lowest priority.
func (s *Store) QueuedJobsDesc(ctx context.Context) ([]int64, error) {
	var members []string
	err := withRetry(ctx, func() error {
		var err error
		members, err = s.rdb.ZRevRange(ctx, jobQueueSortedKey, 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, perr := strconv.ParseInt(m, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("job queue: bad member %q", m)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) RemoveQueuedJob(ctx context.Context, jobID int64) (bool, error) {
	var removed int64
	err := withRetry(ctx, func() error {
		var err error
		removed, err = s.rdb.ZRem(ctx, jobQueueSortedKey, strconv.FormatInt(jobID, 10)).Result()
		return err
	})
	return removed > 0, err
}

func (s *Store) QueueScore(ctx context.Context, jobID int64) (float64, bool, error) {
	score, err := s.rdb.ZScore(ctx, jobQueueSortedKey, strconv.FormatInt(jobID, 10)).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// MarkInProgress flips the runner to in-progress when the audio stream
// starts. Idempotent; refreshes both TTLs.
func (s *Store) MarkInProgress(ctx context.Context, runnerID, jobID int64) error {
	runnerKey := onlineRunnerKey(runnerID)
	jobKey := inProcessJobKey(jobID)
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, runnerKey, "in_process", "1")
			p.Expire(ctx, runnerKey, s.ttl)
			p.Expire(ctx, jobKey, s.ttl)
			return nil
		})
		return err
	})
}

// RefreshTTL re-arms the runner's TTL and, when it holds a job, the
// in-process record's TTL in the same transaction.
func (s *Store) RefreshTTL(ctx context.Context, runnerID int64, assignedJobID *int64) error {
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Expire(ctx, onlineRunnerKey(runnerID), s.ttl)
			if assignedJobID != nil {
				p.Expire(ctx, inProcessJobKey(*assignedJobID), s.ttl)
			}
			return nil
		})
		return err
	})
}

// UpdateProgress stores a changed progress value and publishes the update.
// Callers skip the call entirely when the value is unchanged.
func (s *Store) UpdateProgress(ctx context.Context, jobID, userID int64, progress float64) error {
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, inProcessJobKey(jobID), "progress", progress)
			s.publish(ctx, p, userID, EventJobUpdated, jobID)
			return nil
		})
		return err
	})
}

// SetAbort raises the abort flag; the runner observes it on its next
// heartbeat.
func (s *Store) SetAbort(ctx context.Context, jobID, userID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, inProcessJobKey(jobID), "abort", "1")
			s.publish(ctx, p, userID, EventJobUpdated, jobID)
			return nil
		})
		return err
	})
}

// FinalizeAssignment clears the runner's assignment after a result was
// recorded durably: the in-process record is deleted, the runner becomes
// idle and re-enters the priority set, the queue entry (if any survived) is
// dropped, and the owner is notified.
func (s *Store) FinalizeAssignment(ctx context.Context, runnerID, jobID, userID int64, priority float64) error {
	runnerKey := onlineRunnerKey(runnerID)
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, inProcessJobKey(jobID))
			p.HSet(ctx, runnerKey, "assigned_job_id", "", "in_process", "0")
			p.Expire(ctx, runnerKey, s.ttl)
			p.ZRem(ctx, jobQueueSortedKey, strconv.FormatInt(jobID, 10))
			p.ZAdd(ctx, runnersSortedKey, goredis.Z{Score: priority, Member: strconv.FormatInt(runnerID, 10)})
			s.publish(ctx, p, userID, EventJobUpdated, jobID)
			return nil
		})
		return err
	})
}

// UnregisterRunner removes every ephemeral trace of the runner. When it was
// holding a job the in-process record goes too and the owner is notified;
// re-enqueueing the job is the caller's move.
func (s *Store) UnregisterRunner(ctx context.Context, runnerID int64, assignedJobID *int64, userID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, onlineRunnerKey(runnerID))
			p.ZRem(ctx, runnersSortedKey, strconv.FormatInt(runnerID, 10))
			if assignedJobID != nil {
				p.Del(ctx, inProcessJobKey(*assignedJobID))
				s.publish(ctx, p, userID, EventJobUpdated, *assignedJobID)
			}
			return nil
		})
		return err
	})
}
