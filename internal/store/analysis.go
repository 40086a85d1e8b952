package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qiita/qiita-ware/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Analysis interface {
	List(ctx context.Context, filter *AnalysisQueryFilter, opts *AnalysisQueryOptions) (model.AnalysisList, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Analysis, error)
	Exists(ctx context.Context, owner, name string) (bool, error)
	Create(ctx context.Context, analysis model.Analysis, jobs []model.Job) (*model.Analysis, error)
	Update(ctx context.Context, id uuid.UUID, mutate func(a *model.Analysis) error) (*model.Analysis, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AnalysisStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[model.AnalysisStatus]int64, error)
}

type AnalysisStore struct {
	db *gorm.DB
}

// Make sure we conform to Analysis interface
var _ Analysis = (*AnalysisStore)(nil)

func NewAnalysisStore(db *gorm.DB) Analysis {
	return &AnalysisStore{db: db}
}

func (a *AnalysisStore) List(ctx context.Context, filter *AnalysisQueryFilter, opts *AnalysisQueryOptions) (model.AnalysisList, error) {
	var analyses model.AnalysisList
	tx := a.getDB(ctx).Model(&analyses).Order("created_at DESC")

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&analyses).Error; err != nil {
		return nil, err
	}
	return analyses, nil
}

func (a *AnalysisStore) Get(ctx context.Context, id uuid.UUID) (*model.Analysis, error) {
	var analysis model.Analysis
	result := a.getDB(ctx).Preload("Jobs", func(db *gorm.DB) *gorm.DB {
		return db.Order("jobs.position ASC")
	}).First(&analysis, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &analysis, nil
}

func (a *AnalysisStore) Exists(ctx context.Context, owner, name string) (bool, error) {
	var count int64
	if err := a.getDB(ctx).Model(&model.Analysis{}).Where("owner = ? AND name = ?", owner, name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create persists the analysis and all of its jobs in one transaction.
func (a *AnalysisStore) Create(ctx context.Context, analysis model.Analysis, jobs []model.Job) (*model.Analysis, error) {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	analysis.Jobs = nil

	err := withTx(ctx, a.db, func(tx *gorm.DB) error {
		if err := tx.Create(&analysis).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateKey
			}
			return err
		}

		for i := range jobs {
			jobs[i].AnalysisID = analysis.ID
			if jobs[i].ID == uuid.Nil {
				jobs[i].ID = uuid.New()
			}
		}
		if len(jobs) == 0 {
			return nil
		}
		return tx.Create(&jobs).Error
	})
	if err != nil {
		return nil, err
	}

	analysis.Jobs = jobs
	return &analysis, nil
}

// Update applies mutate to the stored analysis. The write only lands if the
// status is still the one mutate saw.
func (a *AnalysisStore) Update(ctx context.Context, id uuid.UUID, mutate func(a *model.Analysis) error) (*model.Analysis, error) {
	var updated model.Analysis

	err := withTx(ctx, a.db, func(tx *gorm.DB) error {
		err := tx.Preload("Jobs", func(db *gorm.DB) *gorm.DB {
			return db.Order("jobs.position ASC")
		}).First(&updated, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}

		seen := updated.Status
		if err := mutate(&updated); err != nil {
			return err
		}

		now := time.Now()
		updated.UpdatedAt = &now
		result := tx.Model(&model.Analysis{}).
			Where("id = ? AND status = ?", id, seen).
			Select("name", "studies", "metadata_fields", "data_types", "updated_at").
			Omit(clause.Associations).
			Updates(&updated)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return ErrDuplicateKey
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStatusConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateStatus is a compare-and-swap: it fails with ErrStatusConflict when the
// stored status is not from.
func (a *AnalysisStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AnalysisStatus) error {
	if err := model.ValidateAnalysisTransition(from, to); err != nil {
		return err
	}

	result := a.getDB(ctx).Model(&model.Analysis{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	exists, err := a.existsByID(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRecordNotFound
	}
	return fmt.Errorf("%w: analysis %s is no longer %s", ErrStatusConflict, id, from)
}

// Delete removes the jobs first, then the analysis.
func (a *AnalysisStore) Delete(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, a.db, func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", id).Delete(&model.Job{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Analysis{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (a *AnalysisStore) CountByStatus(ctx context.Context) (map[model.AnalysisStatus]int64, error) {
	var rows []struct {
		Status model.AnalysisStatus
		Total  int64
	}
	err := a.getDB(ctx).Model(&model.Analysis{}).
		Select("status, count(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.AnalysisStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

func (a *AnalysisStore) existsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := a.getDB(ctx).Model(&model.Analysis{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *AnalysisStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return a.db.WithContext(ctx)
}
