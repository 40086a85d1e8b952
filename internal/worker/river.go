package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"
)

const (
	DefaultQueue  = "analysis_jobs"
	MaxJobRetries = 1
	JobKind       = "qiita_analysis_job"
)

// JobArgs is stored in river_job.args as JSON.
type JobArgs struct {
	Task
}

func (JobArgs) Kind() string {
	return JobKind
}

func (JobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: MaxJobRetries,
	}
}

// OutcomeHandler receives outcomes of tasks submitted by another process
// sharing the queue.
type OutcomeHandler func(task Task, outcome Outcome)

// callbacks holds the callbacks of the tasks submitted by this process, keyed
// by job id. Take removes the entry, so a callback runs at most once.
type callbacks struct {
	m        sync.Map
	fallback OutcomeHandler
}

func (c *callbacks) put(task Task, done Callback) {
	c.m.Store(task.JobID, done)
}

func (c *callbacks) deliver(task Task, outcome Outcome) bool {
	if done, found := c.m.LoadAndDelete(task.JobID); found {
		done.(Callback)(outcome)
		return true
	}
	if c.fallback != nil {
		c.fallback(task, outcome)
		return true
	}
	return false
}

type JobWorker struct {
	river.WorkerDefaults[JobArgs]
	runner    Runner
	callbacks *callbacks
	timeout   time.Duration
}

func NewJobWorker(runner Runner, timeout time.Duration) *JobWorker {
	return &JobWorker{runner: runner, callbacks: &callbacks{}, timeout: timeout}
}

func (w *JobWorker) Timeout(job *river.Job[JobArgs]) time.Duration {
	return w.timeout
}

func (w *JobWorker) Work(ctx context.Context, job *river.Job[JobArgs]) error {
	task := job.Args.Task

	var outcome Outcome
	if ctx.Err() != nil {
		outcome = Outcome{Message: CancelledMessage}
	} else {
		outcome = runTask(ctx, w.runner, task)
	}

	if !w.callbacks.deliver(task, outcome) {
		zap.S().Named("river_worker").Warnw("no receiver for job outcome", "job_id", task.JobID, "river_job_id", job.ID)
	}

	if !outcome.Success {
		return errors.New(outcome.Message)
	}
	if err := river.RecordOutput(ctx, outcome.Results); err != nil {
		zap.S().Named("river_worker").Debugw("failed to record job output", "job_id", task.JobID, "error", err)
	}
	return nil
}

// RiverPool runs tasks as river jobs on postgres, so they survive restarts
// and spread over every process working the queue.
type RiverPool struct {
	client *river.Client[pgx.Tx]
	worker *JobWorker
}

var _ Pool = (*RiverPool)(nil)

func NewRiverPool(pool *pgxpool.Pool, runner Runner, concurrency int, timeout time.Duration, fallback OutcomeHandler) (*RiverPool, error) {
	worker := NewJobWorker(runner, timeout)
	worker.callbacks.fallback = fallback

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			DefaultQueue: {MaxWorkers: concurrency},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, err
	}

	return &RiverPool{client: riverClient, worker: worker}, nil
}

func (p *RiverPool) Start(ctx context.Context) error {
	return p.client.Start(ctx)
}

func (p *RiverPool) Stop(ctx context.Context) error {
	return p.client.Stop(ctx)
}

// Submit registers the callback before the insert; the job may run before
// Insert returns.
func (p *RiverPool) Submit(ctx context.Context, task Task, done Callback) (Handle, error) {
	p.worker.callbacks.put(task, done)

	result, err := p.client.Insert(ctx, JobArgs{Task: task}, nil)
	if err != nil {
		p.worker.callbacks.m.Delete(task.JobID)
		return "", fmt.Errorf("%w: %w", ErrWorkerUnavailable, err)
	}
	return Handle(strconv.FormatInt(result.Job.ID, 10)), nil
}

// Cancel asks river to cancel the job. A job cancelled before it started
// never reaches Work, so its callback is fired here.
func (p *RiverPool) Cancel(ctx context.Context, handle Handle) error {
	id, err := strconv.ParseInt(string(handle), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid handle %q: %w", handle, err)
	}

	row, err := p.client.JobCancel(ctx, id)
	if err != nil {
		if errors.Is(err, river.ErrNotFound) {
			return nil
		}
		return err
	}
	if row.State != rivertype.JobStateCancelled {
		return nil
	}

	var args JobArgs
	if err := json.Unmarshal(row.EncodedArgs, &args); err != nil {
		return err
	}
	p.worker.callbacks.deliver(args.Task, Outcome{Message: CancelledMessage})
	return nil
}
