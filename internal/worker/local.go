package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LocalPool runs tasks on a fixed number of goroutines fed by a bounded
// queue. A full queue rejects the task instead of blocking the caller.
type LocalPool struct {
	runner Runner
	queue  chan *localTask
	ctx    context.Context
	stop   context.CancelFunc
	group  *errgroup.Group

	mu     sync.Mutex
	tasks  map[Handle]*localTask
	next   uint64
	closed bool
}

var _ Pool = (*LocalPool)(nil)

type localTask struct {
	handle Handle
	task   Task
	done   Callback
	ctx    context.Context
	cancel context.CancelFunc
}

func NewLocalPool(runner Runner, concurrency, queueSize int) *LocalPool {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, stop := context.WithCancel(context.Background())
	p := &LocalPool{
		runner: runner,
		queue:  make(chan *localTask, queueSize),
		ctx:    ctx,
		stop:   stop,
		group:  &errgroup.Group{},
		tasks:  make(map[Handle]*localTask),
	}
	for i := 0; i < concurrency; i++ {
		p.group.Go(p.work)
	}
	return p
}

// Submit queues the task. The task context derives from the pool, not from
// ctx, so it outlives the request that submitted it.
func (p *LocalPool) Submit(ctx context.Context, task Task, done Callback) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", fmt.Errorf("%w: pool is closed", ErrWorkerUnavailable)
	}

	p.next++
	taskCtx, cancel := context.WithCancel(p.ctx)
	t := &localTask{
		handle: Handle(strconv.FormatUint(p.next, 10)),
		task:   task,
		done:   done,
		ctx:    taskCtx,
		cancel: cancel,
	}

	select {
	case p.queue <- t:
		p.tasks[t.handle] = t
		return t.handle, nil
	default:
		cancel()
		return "", fmt.Errorf("%w: queue is full", ErrWorkerUnavailable)
	}
}

func (p *LocalPool) Cancel(ctx context.Context, handle Handle) error {
	p.mu.Lock()
	t, found := p.tasks[handle]
	p.mu.Unlock()

	if found {
		t.cancel()
	}
	return nil
}

// Len reports the tasks accepted and not finished yet.
func (p *LocalPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Close cancels every pending task and waits for the workers. Cancelled tasks
// still get their callback.
func (p *LocalPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stop()
	close(p.queue)
	p.mu.Unlock()

	return p.group.Wait()
}

func (p *LocalPool) work() error {
	for t := range p.queue {
		var outcome Outcome
		if t.ctx.Err() != nil {
			outcome = Outcome{Message: CancelledMessage}
		} else {
			outcome = runTask(t.ctx, p.runner, t.task)
		}
		p.finish(t, outcome)
	}
	return nil
}

func (p *LocalPool) finish(t *localTask, outcome Outcome) {
	p.mu.Lock()
	delete(p.tasks, t.handle)
	p.mu.Unlock()
	t.cancel()

	zap.S().Named("local_pool").Debugw("task finished", "job_id", t.task.JobID, "handle", t.handle, "success", outcome.Success)
	t.done(outcome)
}
