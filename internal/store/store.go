package store

import (
	"context"

	"github.com/qiita/qiita-ware/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Analysis() Analysis
	Job() Job
	Event() Event
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db       *gorm.DB
	analysis Analysis
	job      Job
	event    Event
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		analysis: NewAnalysisStore(db),
		job:      NewJobStore(db),
		event:    NewEventStore(db),
		db:       db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Analysis() Analysis {
	return s.analysis
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Event() Event {
	return s.event
}

// InitialMigration creates the schema with gorm. Postgres deployments run
// the goose migrations instead.
func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.Analysis{},
		&model.Job{},
		&model.NotificationEvent{},
		&model.NotificationSequence{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
