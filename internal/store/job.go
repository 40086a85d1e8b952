package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qiita/qiita-ware/internal/store/model"
	"gorm.io/gorm"
)

// Job interface for job-related database operations
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to model.JobStatus, results []string, message string) (*model.Job, error)
	SetHandle(ctx context.Context, id uuid.UUID, handle string) error
}

// JobStore implements the Job interface
type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

// NewJobStore creates a new job store
func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

// Create adds a job to an analysis that is still under construction.
func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	err := withTx(ctx, s.db, func(tx *gorm.DB) error {
		var parent model.Analysis
		if err := tx.First(&parent, "id = ?", job.AnalysisID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		if parent.IsLocked() {
			return model.ErrAnalysisLocked
		}
		if parent.Status != model.AnalysisStatusConstruction {
			return fmt.Errorf("%w: analysis %s is %s", ErrStatusConflict, parent.ID, parent.Status)
		}

		var count int64
		if err := tx.Model(&model.Job{}).Where("analysis_id = ?", job.AnalysisID).Count(&count).Error; err != nil {
			return err
		}
		job.Position = int(count)

		if err := tx.Create(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateKey
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}

	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs).Order("position ASC")
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if err := tx.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateStatus validates the transition against the stored status and writes
// it only if that status is unchanged (compare-and-swap).
func (s *JobStore) UpdateStatus(ctx context.Context, id uuid.UUID, to model.JobStatus, results []string, message string) (*model.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := job.Status
	if err := job.Transition(to, results, message); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatusConflict, err)
	}

	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, from).
		Select("status", "results", "error_message", "updated_at").
		Updates(job)
	if result.Error != nil {
		return nil, fmt.Errorf("updating job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: job %s is no longer %s", ErrStatusConflict, id, from)
	}

	return job, nil
}

func (s *JobStore) SetHandle(ctx context.Context, id uuid.UUID, handle string) error {
	result := s.getDB(ctx).Model(&model.Job{}).Where("id = ?", id).Update("handle", handle)
	if result.Error != nil {
		return fmt.Errorf("updating job handle: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
