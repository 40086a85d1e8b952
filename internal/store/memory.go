package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qiita/qiita-ware/internal/store/model"
)

// MemoryStore keeps every record in process memory. Each operation is atomic
// on its own; transactions in ctx are ignored.
type MemoryStore struct {
	mu        sync.RWMutex
	analyses  map[uuid.UUID]model.Analysis
	jobs      map[uuid.UUID]model.Job
	events    map[string][]model.NotificationEvent
	sequences map[string]uint64
	nextEvent uint
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analyses:  make(map[uuid.UUID]model.Analysis),
		jobs:      make(map[uuid.UUID]model.Job),
		events:    make(map[string][]model.NotificationEvent),
		sequences: make(map[string]uint64),
	}
}

func (m *MemoryStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

func (m *MemoryStore) Analysis() Analysis { return (*memoryAnalysis)(m) }

func (m *MemoryStore) Job() Job { return (*memoryJob)(m) }

func (m *MemoryStore) Event() Event { return (*memoryEvent)(m) }

func (m *MemoryStore) InitialMigration(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) jobsOf(id uuid.UUID) []model.Job {
	var jobs []model.Job
	for _, j := range m.jobs {
		if j.AnalysisID == id {
			jobs = append(jobs, copyJob(j))
		}
	}
	return model.SortJobs(jobs)
}

type memoryAnalysis MemoryStore

func (m *memoryAnalysis) List(ctx context.Context, filter *AnalysisQueryFilter, opts *AnalysisQueryOptions) (model.AnalysisList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var analyses model.AnalysisList
	for _, a := range m.analyses {
		if !filter.Match(a) {
			continue
		}
		a = copyAnalysis(a)
		if opts != nil && opts.WithJobs {
			a.Jobs = (*MemoryStore)(m).jobsOf(a.ID)
		}
		analyses = append(analyses, a)
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.After(analyses[j].CreatedAt)
	})
	if opts != nil && opts.Limit > 0 && len(analyses) > opts.Limit {
		analyses = analyses[:opts.Limit]
	}
	return analyses, nil
}

func (m *memoryAnalysis) Get(ctx context.Context, id uuid.UUID) (*model.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.analyses[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	a = copyAnalysis(a)
	a.Jobs = (*MemoryStore)(m).jobsOf(id)
	return &a, nil
}

func (m *memoryAnalysis) Exists(ctx context.Context, owner, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.analyses {
		if a.Owner == owner && a.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryAnalysis) Create(ctx context.Context, analysis model.Analysis, jobs []model.Job) (*model.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.analyses {
		if a.Owner == analysis.Owner && a.Name == analysis.Name {
			return nil, ErrDuplicateKey
		}
	}
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	if _, found := m.analyses[analysis.ID]; found {
		return nil, ErrDuplicateKey
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}
	analysis.Jobs = nil

	created := make([]model.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if _, found := m.jobs[j.ID]; found {
			return nil, ErrDuplicateKey
		}
		j.AnalysisID = analysis.ID
		if j.CreatedAt.IsZero() {
			j.CreatedAt = analysis.CreatedAt
		}
		created = append(created, j)
	}

	m.analyses[analysis.ID] = copyAnalysis(analysis)
	for _, j := range created {
		m.jobs[j.ID] = copyJob(j)
	}

	analysis.Jobs = created
	return &analysis, nil
}

func (m *memoryAnalysis) Update(ctx context.Context, id uuid.UUID, mutate func(a *model.Analysis) error) (*model.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.analyses[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	updated := copyAnalysis(current)
	updated.Jobs = (*MemoryStore)(m).jobsOf(id)
	if err := mutate(&updated); err != nil {
		return nil, err
	}
	for _, a := range m.analyses {
		if a.ID != id && a.Owner == updated.Owner && a.Name == updated.Name {
			return nil, ErrDuplicateKey
		}
	}

	// only the mutable inputs are written, like the gorm store
	current.Name = updated.Name
	current.Studies = updated.Studies
	current.MetadataFields = updated.MetadataFields
	current.DataTypes = updated.DataTypes
	now := time.Now()
	current.UpdatedAt = &now
	m.analyses[id] = copyAnalysis(current)

	result := copyAnalysis(current)
	result.Jobs = (*MemoryStore)(m).jobsOf(id)
	return &result, nil
}

func (m *memoryAnalysis) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AnalysisStatus) error {
	if err := model.ValidateAnalysisTransition(from, to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analyses[id]
	if !ok {
		return ErrRecordNotFound
	}
	if a.Status != from {
		return fmt.Errorf("%w: analysis %s is no longer %s", ErrStatusConflict, id, from)
	}
	a.Status = to
	now := time.Now()
	a.UpdatedAt = &now
	m.analyses[id] = a
	return nil
}

func (m *memoryAnalysis) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.analyses[id]; !ok {
		return ErrRecordNotFound
	}
	for jobID, j := range m.jobs {
		if j.AnalysisID == id {
			delete(m.jobs, jobID)
		}
	}
	delete(m.analyses, id)
	return nil
}

func (m *memoryAnalysis) CountByStatus(ctx context.Context) (map[model.AnalysisStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[model.AnalysisStatus]int64)
	for _, a := range m.analyses {
		counts[a.Status]++
	}
	return counts, nil
}

type memoryJob MemoryStore

func (m *memoryJob) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.analyses[job.AnalysisID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if parent.IsLocked() {
		return nil, model.ErrAnalysisLocked
	}
	if parent.Status != model.AnalysisStatusConstruction {
		return nil, fmt.Errorf("%w: analysis %s is %s", ErrStatusConflict, parent.ID, parent.Status)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if _, found := m.jobs[job.ID]; found {
		return nil, ErrDuplicateKey
	}
	job.Position = len((*MemoryStore)(m).jobsOf(job.AnalysisID))
	job.CreatedAt = time.Now()
	m.jobs[job.ID] = copyJob(job)
	return &job, nil
}

func (m *memoryJob) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	j = copyJob(j)
	return &j, nil
}

func (m *memoryJob) List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []model.Job
	for _, j := range m.jobs {
		if filter.Match(j) {
			jobs = append(jobs, copyJob(j))
		}
	}
	return model.SortJobs(jobs), nil
}

func (m *memoryJob) UpdateStatus(ctx context.Context, id uuid.UUID, to model.JobStatus, results []string, message string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	j = copyJob(j)
	if err := j.Transition(to, results, message); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatusConflict, err)
	}
	m.jobs[id] = j

	updated := copyJob(j)
	return &updated, nil
}

func (m *memoryJob) SetHandle(ctx context.Context, id uuid.UUID, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrRecordNotFound
	}
	j.Handle = &handle
	m.jobs[id] = j
	return nil
}

type memoryEvent MemoryStore

func (m *memoryEvent) Append(ctx context.Context, event model.NotificationEvent) (*model.NotificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequences[event.Recipient]++
	m.nextEvent++
	event.ID = m.nextEvent
	event.Seq = m.sequences[event.Recipient]
	event.CreatedAt = time.Now()
	m.events[event.Recipient] = append(m.events[event.Recipient], event)
	return &event, nil
}

func (m *memoryEvent) List(ctx context.Context, recipient string, afterSeq uint64) ([]model.NotificationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	backlog := m.events[recipient]
	// the backlog is ordered by sequence
	i := sort.Search(len(backlog), func(i int) bool { return backlog[i].Seq > afterSeq })
	return append([]model.NotificationEvent{}, backlog[i:]...), nil
}

func (m *memoryEvent) DeleteByAnalysis(ctx context.Context, recipient, analysisID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[recipient][:0]
	var removed int64
	for _, e := range m.events[recipient] {
		if e.AnalysisID == analysisID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events[recipient] = kept
	return removed, nil
}

func (m *memoryEvent) Notify(ctx context.Context, channel, payload string) error {
	return ErrNotSupported
}

func copyAnalysis(a model.Analysis) model.Analysis {
	a.Studies = cloneStrings(a.Studies)
	a.MetadataFields = cloneStrings(a.MetadataFields)
	a.DataTypes = cloneStrings(a.DataTypes)
	a.Jobs = nil
	return a
}

func copyJob(j model.Job) model.Job {
	j.Results = cloneStrings(j.Results)
	if j.Options != nil {
		opts := make(model.JobOptions, len(j.Options))
		for k, v := range j.Options {
			opts[k] = v
		}
		j.Options = opts
	}
	return j
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
