package service

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/store/model"
	"github.com/qiita/qiita-ware/internal/worker"
	"go.uber.org/zap"
)

// Sweep repairs running analyses this process does not track: queued jobs
// are dispatched again, running jobs past the job timeout fail with
// "timeout", and analyses whose jobs are all terminal are finished. It
// returns how many analyses were finished.
func (s *Switchboard) Sweep(ctx context.Context) (int, error) {
	tracer := s.logger.WithContext(ctx).Operation("sweep").Build()

	running, err := s.store.Analysis().List(ctx,
		store.NewAnalysisQueryFilter().ByStatus(model.AnalysisStatusRunning),
		store.NewAnalysisQueryOptions().WithJobsPreloaded())
	if err != nil {
		tracer.Error(err).Log()
		return 0, NewErrTransientStore(err)
	}

	finished := 0
	for _, analysis := range running {
		for _, job := range analysis.Jobs {
			if _, tracked := s.inflight.Load(job.ID); tracked {
				continue
			}
			switch job.Status {
			case model.JobStatusQueued:
				if err := s.Dispatch(ctx, analysis, job); err != nil {
					tracer.Step("dispatch_failed").WithUUID("job_id", job.ID).WithParam("error", err).Log()
				}
			case model.JobStatusRunning:
				if !s.stale(job) {
					continue
				}
				if err := s.recordOutcome(ctx, job.ID, worker.Outcome{Message: TimeoutMessage}, true); err != nil {
					tracer.Step("expire_failed").WithUUID("job_id", job.ID).WithParam("error", err).Log()
				}
			}
		}

		done, err := s.TryFinishAnalysis(ctx, analysis.ID)
		if err != nil {
			tracer.Error(err).WithUUID("analysis_id", analysis.ID).Log()
			continue
		}
		if done {
			finished++
		}
	}

	tracer.Success().WithInt("analyses", len(running)).WithInt("finished", finished).Log()
	return finished, nil
}

func (s *Switchboard) stale(job model.Job) bool {
	since := job.CreatedAt
	if job.UpdatedAt != nil {
		since = *job.UpdatedAt
	}
	return time.Since(since) > s.cfg.Switchboard.JobTimeout
}

// RunSweeper sweeps once, then on a jittered interval until ctx is done.
func (s *Switchboard) RunSweeper(ctx context.Context, interval time.Duration) {
	logger := zap.S().Named("sweeper")

	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			logger.Errorw("sweep failed", "error", err)
		} else if n > 0 {
			logger.Infow("finished stale analyses", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
