package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

const claimWait = 1 * time.Second

// Worker runs a pool of claim loops against the queue. Each claimed job
// executes under its own timeout context; panics are recovered and
// recorded as failures so one bad job cannot take the pool down.
type Worker struct {
	client      *Client
	registry    *Registry
	log         *logger.Logger
	concurrency int
	jobTimeout  time.Duration
}

func NewWorker(client *Client, registry *Registry, concurrency int, jobTimeout time.Duration, baseLog *logger.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Worker{
		client:      client,
		registry:    registry,
		log:         baseLog.With("component", "Worker"),
		concurrency: concurrency,
		jobTimeout:  jobTimeout,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker pool starting",
		"concurrency", w.concurrency,
		"job_timeout", w.jobTimeout.String(),
		"functions", w.registry.Functions())

	// Jobs a previous worker claimed but never acked go back on the queue.
	if requeued, err := w.client.RequeueOrphans(ctx); err != nil {
		w.log.Error("orphan requeue failed", "error", err)
	} else if requeued > 0 {
		w.log.Info("requeued orphaned jobs", "count", requeued)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.claimLoop(ctx, slot)
		}(i)
	}
	wg.Wait()
	w.log.Info("worker pool stopped")
}

func (w *Worker) claimLoop(ctx context.Context, slot int) {
	log := w.log.With("slot", slot)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.client.claim(ctx, claimWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed, backing off", "error", err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}
		w.execute(ctx, log, job)
	}
}

func (w *Worker) execute(ctx context.Context, log *logger.Logger, job *JobRecord) {
	log = log.With("job_id", job.JobID, "function", job.Function)

	if err := w.client.markProcessing(ctx, job.JobID); err != nil {
		log.Error("mark processing failed", "error", err)
	}

	handler, ok := w.registry.Resolve(job.Function)
	if !ok {
		err := fmt.Errorf("unknown job function %q", job.Function)
		log.Error("job rejected", "error", err)
		w.finish(log, job.JobID, err)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	err := w.runHandler(jobCtx, handler, job.Args)
	if err != nil {
		log.Error("job failed", "error", err, "duration", time.Since(start).String())
	} else {
		log.Info("job completed", "duration", time.Since(start).String())
	}
	w.finish(log, job.JobID, err)
}

func (w *Worker) runHandler(ctx context.Context, handler HandlerFunc, args map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, args)
}

// finish records the terminal state with a fresh context so a cancelled
// worker can still persist the outcome, then acks the claim.
func (w *Worker) finish(log *logger.Logger, jobID string, jobErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.markDone(ctx, jobID, jobErr); err != nil {
		log.Error("record job outcome failed", "error", err)
	}
	w.client.ack(ctx, jobID)
}
