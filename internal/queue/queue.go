package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

const (
	queueKey      = "mnemosyne:queue:ingest"
	processingKey = "mnemosyne:queue:ingest:processing"
	jobKeyPrefix  = "mnemosyne:job:"

	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobRecord is the durable state of one job, stored as a Redis hash so it
// survives both process restarts and Redis restarts (with persistence on).
type JobRecord struct {
	JobID       string         `json:"job_id"`
	Function    string         `json:"function"`
	Args        map[string]any `json:"args"`
	Status      string         `json:"status"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// commands is the slice of Redis the queue uses, narrowed so tests can
// substitute an in-memory implementation.
type commands interface {
	Ping(ctx context.Context) error
	Close() error
	LPush(ctx context.Context, key string, value string) error
	BLMove(ctx context.Context, source, destination, srcPos, dstPos string, timeout time.Duration) (string, error)
	LMove(ctx context.Context, source, destination, srcPos, dstPos string) (string, error)
	LRem(ctx context.Context, key string, count int64, value string) error
	HSet(ctx context.Context, key string, fields map[string]any) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ErrEmpty marks a blocking pop that timed out with nothing to take.
var ErrEmpty = redis.Nil

type redisCommands struct {
	rdb *redis.Client
}

func (r redisCommands) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }
func (r redisCommands) Close() error                   { return r.rdb.Close() }

func (r redisCommands) LPush(ctx context.Context, key, value string) error {
	return r.rdb.LPush(ctx, key, value).Err()
}

func (r redisCommands) BLMove(ctx context.Context, source, destination, srcPos, dstPos string, timeout time.Duration) (string, error) {
	return r.rdb.BLMove(ctx, source, destination, srcPos, dstPos, timeout).Result()
}

func (r redisCommands) LMove(ctx context.Context, source, destination, srcPos, dstPos string) (string, error) {
	return r.rdb.LMove(ctx, source, destination, srcPos, dstPos).Result()
}

func (r redisCommands) LRem(ctx context.Context, key string, count int64, value string) error {
	return r.rdb.LRem(ctx, key, count, value).Err()
}

func (r redisCommands) HSet(ctx context.Context, key string, fields map[string]any) error {
	return r.rdb.HSet(ctx, key, fields).Err()
}

func (r redisCommands) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

// Client enqueues jobs and reads their status. Jobs travel through a
// Redis list (LPUSH producer side, BLMOVE consumer side, so FIFO) while
// the per-job hash carries the record the status endpoint reads. A
// claimed id sits on a processing list until acked, so a hard worker
// crash leaves it recoverable instead of lost.
type Client struct {
	cmds commands
	log  *logger.Logger
}

func NewClient(host string, port int, baseLog *logger.Logger) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &Client{cmds: redisCommands{rdb: rdb}, log: baseLog.With("component", "JobQueue")}
}

// Ping verifies the Redis connection at startup.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.cmds.Ping(ctx); err != nil {
		return apperr.New(apperr.CodeQueueUnavailable, "queue_ping", "redis unreachable", err)
	}
	return nil
}

func (c *Client) Close() error { return c.cmds.Close() }

func jobKey(jobID string) string { return jobKeyPrefix + jobID }

// Enqueue records the job hash first, then pushes the id onto the work
// list. A crash between the two leaves a queued-but-invisible record,
// never a dangling list entry.
func (c *Client) Enqueue(ctx context.Context, function string, args map[string]any) (string, error) {
	const op = "enqueue_job"
	if strings.TrimSpace(function) == "" {
		return "", apperr.Validation(op, "job function is required")
	}
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", apperr.Validation(op, fmt.Sprintf("args are not serializable: %v", err))
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()
	fields := map[string]any{
		"function":    function,
		"args":        string(argsJSON),
		"status":      StatusQueued,
		"enqueued_at": now.Format(time.RFC3339Nano),
	}
	if err := c.cmds.HSet(ctx, jobKey(jobID), fields); err != nil {
		return "", apperr.New(apperr.CodeQueueUnavailable, op, "write job record failed", err)
	}
	if err := c.cmds.LPush(ctx, queueKey, jobID); err != nil {
		return "", apperr.New(apperr.CodeQueueUnavailable, op, "push job failed", err)
	}
	c.log.Info("job enqueued", "job_id", jobID, "function", function)
	return jobID, nil
}

// Status returns the job record, or a not-found error when the id is
// unknown (or the record has expired).
func (c *Client) Status(ctx context.Context, jobID string) (*JobRecord, error) {
	const op = "get_job_status"
	if strings.TrimSpace(jobID) == "" {
		return nil, apperr.Validation(op, "job id is required")
	}
	fields, err := c.cmds.HGetAll(ctx, jobKey(jobID))
	if err != nil {
		return nil, apperr.New(apperr.CodeQueueUnavailable, op, "read job record failed", err)
	}
	if len(fields) == 0 {
		return nil, apperr.NotFound(op, fmt.Sprintf("no job %s", jobID))
	}
	return recordFromHash(jobID, fields)
}

func recordFromHash(jobID string, fields map[string]string) (*JobRecord, error) {
	record := &JobRecord{
		JobID:    jobID,
		Function: fields["function"],
		Status:   fields["status"],
		Error:    fields["error"],
	}
	if raw := fields["args"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &record.Args); err != nil {
			return nil, apperr.New(apperr.CodeQueueUnavailable, "get_job_status", "decode job args failed", err)
		}
	}
	if raw := fields["enqueued_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			record.EnqueuedAt = t
		}
	}
	if raw := fields["completed_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			record.CompletedAt = &t
		}
	}
	return record, nil
}

// markProcessing and markDone are worker-side transitions; completed and
// failed are terminal.
func (c *Client) markProcessing(ctx context.Context, jobID string) error {
	return c.cmds.HSet(ctx, jobKey(jobID), map[string]any{"status": StatusProcessing})
}

func (c *Client) markDone(ctx context.Context, jobID string, jobErr error) error {
	fields := map[string]any{
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if jobErr != nil {
		fields["status"] = StatusFailed
		fields["error"] = jobErr.Error()
	} else {
		fields["status"] = StatusCompleted
	}
	return c.cmds.HSet(ctx, jobKey(jobID), fields)
}

// claim blocks up to timeout for the next job id, moving it onto the
// processing list in the same Redis operation. The id stays there until
// ack, so a worker killed mid-job leaves the id recoverable by
// RequeueOrphans. A nil record with nil error means the wait timed out
// with nothing to do.
func (c *Client) claim(ctx context.Context, timeout time.Duration) (*JobRecord, error) {
	jobID, err := c.cmds.BLMove(ctx, queueKey, processingKey, "RIGHT", "LEFT", timeout)
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return nil, nil
		}
		return nil, apperr.New(apperr.CodeQueueUnavailable, "claim_job", "pop job failed", err)
	}
	fields, err := c.cmds.HGetAll(ctx, jobKey(jobID))
	if err != nil {
		return nil, apperr.New(apperr.CodeQueueUnavailable, "claim_job", "read job record failed", err)
	}
	if len(fields) == 0 {
		c.log.Warn("claimed job has no record, dropping", "job_id", jobID)
		c.ack(ctx, jobID)
		return nil, nil
	}
	return recordFromHash(jobID, fields)
}

// ack removes a finished job id from the processing list.
func (c *Client) ack(ctx context.Context, jobID string) {
	if err := c.cmds.LRem(ctx, processingKey, 1, jobID); err != nil {
		c.log.Error("ack failed, job may be redelivered", "job_id", jobID, "error", err)
	}
}

// RequeueOrphans moves ids stranded on the processing list by a crashed
// worker back onto the queue. Handlers are idempotent on their filter
// key, so redelivering a job that actually finished is safe. Returns the
// number of jobs requeued.
func (c *Client) RequeueOrphans(ctx context.Context) (int, error) {
	requeued := 0
	for {
		jobID, err := c.cmds.LMove(ctx, processingKey, queueKey, "RIGHT", "RIGHT")
		if err != nil {
			if errors.Is(err, ErrEmpty) {
				return requeued, nil
			}
			return requeued, apperr.New(apperr.CodeQueueUnavailable, "requeue_orphans", "move job failed", err)
		}
		if err := c.cmds.HSet(ctx, jobKey(jobID), map[string]any{"status": StatusQueued}); err != nil {
			c.log.Error("reset orphan status failed", "job_id", jobID, "error", err)
		}
		c.log.Warn("requeued orphaned job", "job_id", jobID)
		requeued++
	}
}
