package store

import (
	"github.com/google/uuid"
	"github.com/qiita/qiita-ware/internal/store/model"
	"gorm.io/gorm"
)

// Filters carry both the gorm scope and the equivalent predicate so every
// backend applies the same selection.

type AnalysisQueryFilter struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
	MatchFn []func(a model.Analysis) bool
}

func NewAnalysisQueryFilter() *AnalysisQueryFilter {
	return &AnalysisQueryFilter{}
}

func (f *AnalysisQueryFilter) ByOwner(owner string) *AnalysisQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("owner = ?", owner)
	})
	f.MatchFn = append(f.MatchFn, func(a model.Analysis) bool {
		return a.Owner == owner
	})
	return f
}

func (f *AnalysisQueryFilter) ByName(name string) *AnalysisQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("name = ?", name)
	})
	f.MatchFn = append(f.MatchFn, func(a model.Analysis) bool {
		return a.Name == name
	})
	return f
}

func (f *AnalysisQueryFilter) ByStatus(statuses ...model.AnalysisStatus) *AnalysisQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	f.MatchFn = append(f.MatchFn, func(a model.Analysis) bool {
		for _, s := range statuses {
			if a.Status == s {
				return true
			}
		}
		return false
	})
	return f
}

func (f *AnalysisQueryFilter) Match(a model.Analysis) bool {
	if f == nil {
		return true
	}
	for _, fn := range f.MatchFn {
		if !fn(a) {
			return false
		}
	}
	return true
}

type JobQueryFilter struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
	MatchFn []func(j model.Job) bool
}

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{}
}

func (f *JobQueryFilter) ByAnalysisID(id uuid.UUID) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("analysis_id = ?", id)
	})
	f.MatchFn = append(f.MatchFn, func(j model.Job) bool {
		return j.AnalysisID == id
	})
	return f
}

func (f *JobQueryFilter) ByStatus(statuses ...model.JobStatus) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	f.MatchFn = append(f.MatchFn, func(j model.Job) bool {
		for _, s := range statuses {
			if j.Status == s {
				return true
			}
		}
		return false
	})
	return f
}

func (f *JobQueryFilter) Match(j model.Job) bool {
	if f == nil {
		return true
	}
	for _, fn := range f.MatchFn {
		if !fn(j) {
			return false
		}
	}
	return true
}

type AnalysisQueryOptions struct {
	QueryFn  []func(tx *gorm.DB) *gorm.DB
	Limit    int
	WithJobs bool
}

func NewAnalysisQueryOptions() *AnalysisQueryOptions {
	return &AnalysisQueryOptions{}
}

func (o *AnalysisQueryOptions) WithLimit(limit int) *AnalysisQueryOptions {
	o.Limit = limit
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *AnalysisQueryOptions) WithJobsPreloaded() *AnalysisQueryOptions {
	o.WithJobs = true
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Preload("Jobs", func(db *gorm.DB) *gorm.DB {
			return db.Order("jobs.position ASC")
		})
	})
	return o
}
