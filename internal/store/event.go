package store

import (
	"context"

	"github.com/qiita/qiita-ware/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event is the durable notification backlog.
type Event interface {
	// Append allocates the next sequence number of the recipient and stores the
	// event under it.
	Append(ctx context.Context, event model.NotificationEvent) (*model.NotificationEvent, error)
	List(ctx context.Context, recipient string, afterSeq uint64) ([]model.NotificationEvent, error)
	DeleteByAnalysis(ctx context.Context, recipient, analysisID string) (int64, error)
	// Notify broadcasts payload on a postgres channel. It takes effect when the
	// transaction in ctx commits.
	Notify(ctx context.Context, channel, payload string) error
}

type EventStore struct {
	db *gorm.DB
}

var _ Event = (*EventStore)(nil)

func NewEventStore(db *gorm.DB) Event {
	return &EventStore{db: db}
}

func (e *EventStore) Append(ctx context.Context, event model.NotificationEvent) (*model.NotificationEvent, error) {
	err := withTx(ctx, e.db, func(tx *gorm.DB) error {
		// the upsert takes the counter row lock until the transaction ends, so
		// appends of one recipient commit in sequence order.
		counter := model.NotificationSequence{Recipient: event.Recipient, Seq: 1}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "recipient"}},
			DoUpdates: clause.Assignments(map[string]any{
				"seq": gorm.Expr("notification_sequences.seq + 1"),
			}),
		}).Create(&counter).Error; err != nil {
			return err
		}

		if err := tx.First(&counter, "recipient = ?", event.Recipient).Error; err != nil {
			return err
		}

		event.ID = 0
		event.Seq = counter.Seq
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (e *EventStore) List(ctx context.Context, recipient string, afterSeq uint64) ([]model.NotificationEvent, error) {
	var events []model.NotificationEvent
	err := e.getDB(ctx).
		Where("recipient = ? AND seq > ?", recipient, afterSeq).
		Order("seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (e *EventStore) DeleteByAnalysis(ctx context.Context, recipient, analysisID string) (int64, error) {
	result := e.getDB(ctx).
		Where("recipient = ? AND analysis_id = ?", recipient, analysisID).
		Delete(&model.NotificationEvent{})
	return result.RowsAffected, result.Error
}

func (e *EventStore) Notify(ctx context.Context, channel, payload string) error {
	db := e.getDB(ctx)
	if db.Dialector.Name() != "postgres" {
		return ErrNotSupported
	}
	return db.Exec("SELECT pg_notify(?, ?)", channel, payload).Error
}

func (e *EventStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return e.db.WithContext(ctx)
}
