package model

import "time"

// NotificationEvent is one backlog entry. Payload is the serialized event as
// published; entries are never updated.
type NotificationEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	Recipient  string    `gorm:"not null;type:VARCHAR(255);uniqueIndex:notification_events_recipient_seq_idx"`
	Seq        uint64    `gorm:"column:seq;not null;uniqueIndex:notification_events_recipient_seq_idx"`
	AnalysisID string    `gorm:"not null;type:VARCHAR(255);index:notification_events_analysis_id_idx"`
	Kind       string    `gorm:"not null;type:VARCHAR(50)"`
	Payload    string    `gorm:"not null;type:TEXT"`
}

// NotificationSequence is the per recipient sequence counter.
type NotificationSequence struct {
	Recipient string `gorm:"primaryKey;type:VARCHAR(255)"`
	Seq       uint64 `gorm:"column:seq;not null"`
}
