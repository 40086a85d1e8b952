package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qiita/qiita-ware/internal/capability"
	"github.com/qiita/qiita-ware/internal/config"
	"github.com/qiita/qiita-ware/internal/events"
	"github.com/qiita/qiita-ware/internal/handlers/validator"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/store/model"
	"github.com/qiita/qiita-ware/internal/util"
	"github.com/qiita/qiita-ware/internal/worker"
	"github.com/qiita/qiita-ware/pkg/log"
	"github.com/qiita/qiita-ware/pkg/metrics"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const (
	// TimeoutMessage is recorded for jobs whose pool never reported back.
	TimeoutMessage = "timeout"
)

type JobRequest struct {
	Function string         `json:"function"`
	Options  map[string]any `json:"options,omitempty"`
}

// AnalysisForm is everything needed to submit an analysis. Jobs maps a data
// type to the functions to run on it.
type AnalysisForm struct {
	Owner          string                  `validate:"required"`
	Name           string                  `validate:"analysis_name"`
	Studies        []string                `validate:"required,min=1,dive,study"`
	MetadataFields []string                `validate:"required,min=1,dive,metadata_field"`
	Jobs           map[string][]JobRequest `validate:"required,min=1"`
}

// AnalysisChanges lists the edits applied by ModifyAnalysis. Nil and empty
// fields are left alone.
type AnalysisChanges struct {
	Name                 *string  `validate:"omitempty,analysis_name"`
	AddStudies           []string `validate:"dive,study"`
	RemoveStudies        []string
	AddMetadataFields    []string `validate:"dive,metadata_field"`
	RemoveMetadataFields []string
	AddDataTypes         []string
	RemoveDataTypes      []string
}

// Switchboard fires the jobs of submitted analyses at a worker pool, records
// their outcomes and finishes each analysis exactly once.
type Switchboard struct {
	store     store.Store
	bus       *events.Bus
	pool      worker.Pool
	registry  *capability.Registry
	validator *validator.Validator
	cfg       *config.Config
	locks     *util.KeyedMutex
	logger    *log.StructuredLogger

	inflight sync.Map // job id -> *jobTracker
	stopping sync.Map // analysis id -> struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type jobTracker struct {
	analysisID   uuid.UUID
	owner        string
	analysisName string
	identifier   string
	cancelled    atomic.Bool

	mu     sync.Mutex
	handle worker.Handle
	timer  *time.Timer
}

func (t *jobTracker) setHandle(h worker.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handle = h
}

func (t *jobTracker) getHandle() worker.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle
}

func (t *jobTracker) arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = time.AfterFunc(d, fn)
}

func (t *jobTracker) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

func NewSwitchboard(s store.Store, bus *events.Bus, pool worker.Pool, registry *capability.Registry, cfg *config.Config) *Switchboard {
	v := validator.NewValidator()
	v.Register(validator.NewAnalysisValidationRules()...)

	ctx, cancel := context.WithCancel(context.Background())
	return &Switchboard{
		store:     s,
		bus:       bus,
		pool:      pool,
		registry:  registry,
		validator: v,
		cfg:       cfg,
		locks:     util.NewKeyedMutex(),
		logger:    log.NewDebugLogger("switchboard"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SubmitAnalysis validates and persists the analysis with its jobs, then
// starts it in the background. Nothing is written when validation fails.
func (s *Switchboard) SubmitAnalysis(ctx context.Context, form AnalysisForm) (uuid.UUID, error) {
	if form.Name == "" {
		form.Name = model.DefaultAnalysisName(time.Now())
	}

	tracer := s.logger.WithContext(ctx).
		Operation("submit_analysis").
		WithString("owner", form.Owner).
		WithString("name", form.Name).
		Build()

	if len(form.Jobs) == 0 {
		err := NewErrValidation("at least one job is required")
		tracer.Error(err).Log()
		return uuid.Nil, err
	}
	if err := s.validator.Struct(form); err != nil {
		tracer.Error(err).Log()
		return uuid.Nil, NewErrValidation("invalid analysis: %v", err)
	}

	jobs, dataTypes, err := s.buildJobs(form.Jobs)
	if err != nil {
		tracer.Error(err).Log()
		return uuid.Nil, err
	}
	tracer.Step("jobs_validated").WithInt("jobs", len(jobs)).Log()

	exists, err := s.store.Analysis().Exists(ctx, form.Owner, form.Name)
	if err != nil {
		tracer.Error(err).Log()
		return uuid.Nil, NewErrTransientStore(err)
	}
	if exists {
		return uuid.Nil, NewErrAnalysisExists(form.Owner, form.Name)
	}

	created, err := s.store.Analysis().Create(ctx, model.Analysis{
		Owner:          form.Owner,
		Name:           form.Name,
		Status:         model.AnalysisStatusConstruction,
		Studies:        form.Studies,
		MetadataFields: form.MetadataFields,
		DataTypes:      dataTypes,
	}, jobs)
	if err != nil {
		tracer.Error(err).Log()
		if errors.Is(err, store.ErrDuplicateKey) {
			return uuid.Nil, NewErrAnalysisExists(form.Owner, form.Name)
		}
		return uuid.Nil, NewErrTransientStore(err)
	}

	tracer.Success().WithUUID("analysis_id", created.ID).Log()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.start(*created)
	}()

	return created.ID, nil
}

func (s *Switchboard) buildJobs(requests map[string][]JobRequest) ([]model.Job, []string, error) {
	dataTypes := make([]string, 0, len(requests))
	for dt := range requests {
		dataTypes = append(dataTypes, dt)
	}
	sort.Strings(dataTypes)

	var jobs []model.Job
	for _, dt := range dataTypes {
		if len(requests[dt]) == 0 {
			return nil, nil, NewErrValidation("no jobs requested for data type %q", dt)
		}
		seen := map[string]struct{}{}
		for _, req := range requests[dt] {
			if _, dup := seen[req.Function]; dup {
				return nil, nil, NewErrValidation("job %s:%s requested twice", dt, req.Function)
			}
			seen[req.Function] = struct{}{}

			opts, err := s.registry.Normalize(dt, req.Function, req.Options)
			if err != nil {
				return nil, nil, NewErrValidation("job %s:%s: %v", dt, req.Function, err)
			}
			jobs = append(jobs, model.Job{
				ID:       uuid.New(),
				DataType: dt,
				Function: req.Function,
				Position: len(jobs),
				Options:  model.JobOptions(opts),
				Status:   model.JobStatusQueued,
				Results:  []string{},
			})
		}
	}
	return jobs, dataTypes, nil
}

// start moves the analysis to running and dispatches every job.
func (s *Switchboard) start(analysis model.Analysis) {
	ctx := s.ctx
	logger := zap.S().Named("switchboard")

	if err := analysis.ValidateForDispatch(); err != nil {
		logger.Errorw("analysis cannot be dispatched", "analysis_id", analysis.ID, "error", err)
		return
	}

	err := backoff.Retry(func() error {
		err := s.store.Analysis().UpdateStatus(ctx, analysis.ID, model.AnalysisStatusConstruction, model.AnalysisStatusRunning)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, s.backoff(ctx))
	if err != nil {
		logger.Errorw("failed to start analysis", "analysis_id", analysis.ID, "error", err)
		return
	}
	analysis.Status = model.AnalysisStatusRunning

	for _, job := range model.SortJobs(analysis.Jobs) {
		if err := s.Dispatch(ctx, analysis, job); err != nil {
			logger.Errorw("failed to dispatch job", "analysis_id", analysis.ID, "job", job.Identifier(), "error", err)
		}
	}

	if _, err := s.TryFinishAnalysis(ctx, analysis.ID); err != nil {
		logger.Errorw("failed to finish analysis", "analysis_id", analysis.ID, "error", err)
	}
}

// Dispatch moves a queued job to running and hands it to the pool. A job some
// other caller already moved is skipped.
func (s *Switchboard) Dispatch(ctx context.Context, analysis model.Analysis, job model.Job) error {
	tracer := s.logger.WithContext(ctx).
		Operation("dispatch").
		WithUUID("analysis_id", analysis.ID).
		WithUUID("job_id", job.ID).
		WithString("job", job.Identifier()).
		Build()
	started := time.Now()

	if _, err := s.store.Job().UpdateStatus(ctx, job.ID, model.JobStatusRunning, nil, ""); err != nil {
		if isPermanent(err) {
			tracer.Step("skipped").WithParam("reason", err).Log()
			return nil
		}
		tracer.Error(err).Log()
		return NewErrTransientStore(err)
	}

	tr := &jobTracker{
		analysisID:   analysis.ID,
		owner:        analysis.Owner,
		analysisName: analysis.Name,
		identifier:   job.Identifier(),
	}
	s.inflight.Store(job.ID, tr)
	metrics.IncreaseJobsInflightMetric()
	tr.arm(s.cfg.Switchboard.JobTimeout, func() { s.expire(job.ID) })

	s.publish(ctx, analysis.Owner, events.NewStartedEvent(analysis.ID.String(), analysis.Name, job.Identifier()))

	if _, stopping := s.stopping.Load(analysis.ID); stopping {
		tracer.Step("cancelled_before_submit").Log()
		return s.recordOutcome(ctx, job.ID, worker.Outcome{Message: worker.CancelledMessage}, false)
	}

	task := worker.Task{
		JobID:      job.ID,
		AnalysisID: analysis.ID,
		DataType:   job.DataType,
		Function:   job.Function,
		Options:    job.Options,
	}
	handle, err := s.pool.Submit(ctx, task, func(o worker.Outcome) {
		if err := s.OnJobOutcome(s.ctx, job.ID, o); err != nil {
			zap.S().Named("switchboard").Errorw("failed to record job outcome", "job_id", job.ID, "error", err)
		}
	})
	if err != nil {
		tracer.Error(err).Log()
		return s.recordOutcome(ctx, job.ID, worker.Outcome{Message: NewErrWorkerUnavailable(err).Error()}, false)
	}

	tr.setHandle(handle)
	if tr.cancelled.Load() {
		s.cancelHandle(ctx, handle)
	}
	if err := s.store.Job().SetHandle(ctx, job.ID, string(handle)); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		tracer.Step("handle_not_saved").WithParam("error", err).Log()
	}

	metrics.ObserveDispatchDuration(started)
	tracer.Success().WithString("handle", string(handle)).Log()
	return nil
}

// OnJobOutcome records what the pool reported for a job. Only the first
// outcome of a job counts; later ones are dropped.
func (s *Switchboard) OnJobOutcome(ctx context.Context, jobID uuid.UUID, outcome worker.Outcome) error {
	return s.recordOutcome(ctx, jobID, outcome, false)
}

// HandleOrphanOutcome receives outcomes of tasks submitted by an earlier
// process, which no callback waits for anymore.
func (s *Switchboard) HandleOrphanOutcome(task worker.Task, outcome worker.Outcome) {
	if err := s.OnJobOutcome(s.ctx, task.JobID, outcome); err != nil {
		zap.S().Named("switchboard").Errorw("failed to record orphan job outcome", "job_id", task.JobID, "error", err)
	}
}

func (s *Switchboard) expire(jobID uuid.UUID) {
	v, ok := s.inflight.Load(jobID)
	if !ok {
		return
	}
	handle := v.(*jobTracker).getHandle()

	if err := s.recordOutcome(s.ctx, jobID, worker.Outcome{Message: TimeoutMessage}, true); err != nil {
		zap.S().Named("switchboard").Errorw("failed to record job timeout", "job_id", jobID, "error", err)
	}
	if handle != "" {
		s.cancelHandle(s.ctx, handle)
	}
}

func (s *Switchboard) recordOutcome(ctx context.Context, jobID uuid.UUID, outcome worker.Outcome, watchdog bool) error {
	tracer := s.logger.WithContext(ctx).
		Operation("record_outcome").
		WithUUID("job_id", jobID).
		WithParam("success", outcome.Success).
		WithString("message", outcome.Message).
		Build()

	var tr *jobTracker
	if v, ok := s.inflight.LoadAndDelete(jobID); ok {
		tr = v.(*jobTracker)
		tr.disarm()
		metrics.DecreaseJobsInflightMetric()
		if tr.cancelled.Load() && !watchdog {
			outcome = worker.Outcome{Message: worker.CancelledMessage}
		}
	}

	status := model.JobStatusDone
	if !outcome.Success {
		status = model.JobStatusError
		outcome.Results = nil
	}

	job, err := backoff.RetryWithData(func() (*model.Job, error) {
		j, err := s.store.Job().UpdateStatus(ctx, jobID, status, outcome.Results, outcome.Message)
		if err != nil && isPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return j, err
	}, s.backoff(ctx))
	if err != nil {
		if isPermanent(err) {
			tracer.Step("ignored").WithParam("reason", err).Log()
			return nil
		}
		tracer.Error(err).Log()
		return NewErrTransientStore(err)
	}
	metrics.IncreaseJobsTotalMetric(string(status))

	var owner, name string
	if tr != nil {
		owner, name = tr.owner, tr.analysisName
	} else {
		analysis, err := s.store.Analysis().Get(ctx, job.AnalysisID)
		if err != nil {
			tracer.Error(err).Log()
			return analysisError(job.AnalysisID, err)
		}
		owner, name = analysis.Owner, analysis.Name
	}

	if status == model.JobStatusDone {
		s.publish(ctx, owner, events.NewCompletedEvent(job.AnalysisID.String(), name, job.Identifier(), job.Results))
	} else {
		s.publish(ctx, owner, events.NewFailedEvent(job.AnalysisID.String(), name, job.Identifier(), outcome.Message))
	}
	tracer.Success().WithString("status", string(status)).Log()

	_, err = s.TryFinishAnalysis(ctx, job.AnalysisID)
	return err
}

// TryFinishAnalysis completes a running analysis whose jobs are all terminal.
// Callers are serialized per analysis and the store write is a
// compare-and-swap, so exactly one caller returns true.
func (s *Switchboard) TryFinishAnalysis(ctx context.Context, analysisID uuid.UUID) (bool, error) {
	unlock := s.locks.Lock(analysisID.String())
	defer unlock()

	tracer := s.logger.WithContext(ctx).
		Operation("try_finish_analysis").
		WithUUID("analysis_id", analysisID).
		Build()

	analysis, err := backoff.RetryWithData(func() (*model.Analysis, error) {
		a, err := s.store.Analysis().Get(ctx, analysisID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if a.Status != model.AnalysisStatusRunning || !model.JobList(a.Jobs).AllTerminal() {
			return nil, nil
		}
		err = s.store.Analysis().UpdateStatus(ctx, analysisID, model.AnalysisStatusRunning, model.AnalysisStatusCompleted)
		switch {
		case err == nil:
			a.Status = model.AnalysisStatusCompleted
			return a, nil
		case isPermanent(err):
			return nil, nil
		}
		return nil, err
	}, s.backoff(ctx))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			tracer.Step("gone").Log()
			return false, nil
		}
		tracer.Error(err).Log()
		return false, NewErrTransientStore(err)
	}
	if analysis == nil {
		tracer.Step("not_finished").Log()
		return false, nil
	}

	metrics.IncreaseAnalysesCompletedMetric()
	s.stopping.Delete(analysisID)

	if err := s.bus.Trim(ctx, analysis.Owner, analysisID.String()); err != nil {
		zap.S().Named("switchboard").Warnw("failed to trim backlog", "analysis_id", analysisID, "error", err)
	}
	s.publish(ctx, analysis.Owner, events.NewAnalysisDoneEvent(analysisID.String(), analysis.Name))

	tracer.Success().Log()
	return true, nil
}

// StopAnalysis cancels the unfinished jobs of an analysis. Queued jobs fail
// right away; running jobs fail once their pool reports back or the watchdog
// fires.
func (s *Switchboard) StopAnalysis(ctx context.Context, actor string, analysisID uuid.UUID) error {
	tracer := s.logger.WithContext(ctx).
		Operation("stop_analysis").
		WithString("actor", actor).
		WithUUID("analysis_id", analysisID).
		Build()

	analysis, err := s.authorize(ctx, actor, analysisID)
	if err != nil {
		tracer.Error(err).Log()
		return err
	}
	if analysis.Status.IsTerminal() {
		return NewErrConflict("analysis %s is %s", analysisID, analysis.Status)
	}

	s.stopping.Store(analysisID, struct{}{})

	for _, job := range analysis.Jobs {
		switch job.Status {
		case model.JobStatusQueued:
			if err := s.cancelQueued(ctx, *analysis, job); err != nil && !isPermanent(err) {
				tracer.Error(err).Log()
				return NewErrTransientStore(err)
			}
			// it may have been dispatched meanwhile
			s.cancelRunning(ctx, job)
		case model.JobStatusRunning:
			s.cancelRunning(ctx, job)
		}
	}
	tracer.Step("jobs_cancelled").WithInt("jobs", len(analysis.Jobs)).Log()

	if _, err := s.TryFinishAnalysis(ctx, analysisID); err != nil {
		tracer.Error(err).Log()
		return err
	}

	tracer.Success().Log()
	return nil
}

func (s *Switchboard) cancelQueued(ctx context.Context, analysis model.Analysis, job model.Job) error {
	updated, err := s.store.Job().UpdateStatus(ctx, job.ID, model.JobStatusError, nil, worker.CancelledMessage)
	if err != nil {
		return err
	}
	metrics.IncreaseJobsTotalMetric(string(model.JobStatusError))
	s.publish(ctx, analysis.Owner, events.NewFailedEvent(analysis.ID.String(), analysis.Name, updated.Identifier(), worker.CancelledMessage))
	return nil
}

func (s *Switchboard) cancelRunning(ctx context.Context, job model.Job) {
	var handle worker.Handle
	if v, ok := s.inflight.Load(job.ID); ok {
		tr := v.(*jobTracker)
		tr.cancelled.Store(true)
		handle = tr.getHandle()
	} else if job.Handle != nil {
		handle = worker.Handle(*job.Handle)
	}
	if handle != "" {
		s.cancelHandle(ctx, handle)
	}
}

func (s *Switchboard) cancelHandle(ctx context.Context, handle worker.Handle) {
	if err := s.pool.Cancel(ctx, handle); err != nil {
		zap.S().Named("switchboard").Warnw("failed to cancel job", "handle", handle, "error", err)
	}
}

// LockAnalysis freezes a constructed or completed analysis.
func (s *Switchboard) LockAnalysis(ctx context.Context, actor string, analysisID uuid.UUID) error {
	analysis, err := s.authorize(ctx, actor, analysisID)
	if err != nil {
		return err
	}
	switch analysis.Status {
	case model.AnalysisStatusRunning:
		return NewErrConflict("analysis %s is running", analysisID)
	case model.AnalysisStatusLocked:
		return NewErrConflict("analysis %s is already locked", analysisID)
	}
	if err := s.store.Analysis().UpdateStatus(ctx, analysisID, analysis.Status, model.AnalysisStatusLocked); err != nil {
		return analysisError(analysisID, err)
	}
	zap.S().Named("switchboard").Infow("analysis locked", "analysis_id", analysisID, "actor", actor)
	return nil
}

// DeleteAnalysis removes an analysis that is not running, its jobs and its
// backlog entries.
func (s *Switchboard) DeleteAnalysis(ctx context.Context, actor string, analysisID uuid.UUID) error {
	analysis, err := s.authorize(ctx, actor, analysisID)
	if err != nil {
		return err
	}
	if analysis.Status == model.AnalysisStatusRunning {
		return NewErrConflict("analysis %s is running", analysisID)
	}
	if err := s.store.Analysis().Delete(ctx, analysisID); err != nil {
		return analysisError(analysisID, err)
	}
	if err := s.bus.Trim(ctx, analysis.Owner, analysisID.String()); err != nil {
		zap.S().Named("switchboard").Warnw("failed to trim backlog", "analysis_id", analysisID, "error", err)
	}
	zap.S().Named("switchboard").Infow("analysis deleted", "analysis_id", analysisID, "actor", actor)
	return nil
}

// ModifyAnalysis edits the name and inputs of an analysis that is not
// running. Locked analyses are left untouched.
func (s *Switchboard) ModifyAnalysis(ctx context.Context, actor string, analysisID uuid.UUID, changes AnalysisChanges) (*model.Analysis, error) {
	if err := s.validator.Struct(changes); err != nil {
		return nil, NewErrValidation("invalid changes: %v", err)
	}
	known := s.registry.DataTypes()
	for _, dt := range changes.AddDataTypes {
		if !funk.ContainsString(known, dt) {
			return nil, NewErrValidation("%v: %q", capability.ErrUnknownDataType, dt)
		}
	}

	if _, err := s.authorize(ctx, actor, analysisID); err != nil {
		return nil, err
	}

	updated, err := s.store.Analysis().Update(ctx, analysisID, func(a *model.Analysis) error {
		if a.Status == model.AnalysisStatusRunning {
			return store.ErrStatusConflict
		}
		if changes.Name != nil && *changes.Name != "" {
			if err := a.Rename(*changes.Name); err != nil {
				return err
			}
		}
		for _, apply := range []func() error{
			func() error { return a.AddStudies(changes.AddStudies...) },
			func() error { return a.RemoveStudies(changes.RemoveStudies...) },
			func() error { return a.AddMetadataFields(changes.AddMetadataFields...) },
			func() error { return a.RemoveMetadataFields(changes.RemoveMetadataFields...) },
			func() error { return a.AddDataTypes(changes.AddDataTypes...) },
			func() error { return a.RemoveDataTypes(changes.RemoveDataTypes...) },
		} {
			if err := apply(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, analysisError(analysisID, err)
	}
	return updated, nil
}

// GetAnalysis returns the analysis with its jobs.
func (s *Switchboard) GetAnalysis(ctx context.Context, actor string, analysisID uuid.UUID) (*model.Analysis, error) {
	return s.authorize(ctx, actor, analysisID)
}

// ListAnalyses returns the analyses of owner, newest first, optionally
// restricted to some statuses.
func (s *Switchboard) ListAnalyses(ctx context.Context, owner string, statuses ...model.AnalysisStatus) (model.AnalysisList, error) {
	filter := store.NewAnalysisQueryFilter().ByOwner(owner)
	if len(statuses) > 0 {
		filter = filter.ByStatus(statuses...)
	}
	analyses, err := s.store.Analysis().List(ctx, filter, store.NewAnalysisQueryOptions().WithJobsPreloaded())
	if err != nil {
		return nil, NewErrTransientStore(err)
	}
	return analyses, nil
}

// IsAdmin reports whether user may manage analyses of other owners.
func (s *Switchboard) IsAdmin(user string) bool {
	return funk.ContainsString(s.cfg.Service.Auth.Admins, user)
}

func (s *Switchboard) authorize(ctx context.Context, actor string, analysisID uuid.UUID) (*model.Analysis, error) {
	analysis, err := s.store.Analysis().Get(ctx, analysisID)
	if err != nil {
		return nil, analysisError(analysisID, err)
	}
	if analysis.Owner != actor && !s.IsAdmin(actor) {
		return nil, NewErrForbidden(actor, analysisID)
	}
	return analysis, nil
}

func (s *Switchboard) publish(ctx context.Context, recipient string, e events.Event) {
	if _, err := s.bus.Publish(ctx, recipient, e); err != nil {
		zap.S().Named("switchboard").Errorw("failed to publish event", "recipient", recipient, "job", e.Job, "error", NewErrPublish(err))
	}
}

func (s *Switchboard) backoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = s.cfg.Switchboard.FinishMaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// Close stops the watchdogs and waits for analyses being started.
func (s *Switchboard) Close() {
	s.cancel()
	s.inflight.Range(func(_, v any) bool {
		v.(*jobTracker).disarm()
		return true
	})
	s.wg.Wait()
}

// isPermanent reports store errors that retrying cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, store.ErrStatusConflict) ||
		errors.Is(err, store.ErrRecordNotFound) ||
		errors.Is(err, model.ErrInvalidTransition) ||
		errors.Is(err, model.ErrJobTerminal) ||
		errors.Is(err, model.ErrAnalysisLocked)
}
