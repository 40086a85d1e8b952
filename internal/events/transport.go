package events

import (
	"context"
	"errors"
)

var ErrListenerClosed = errors.New("live channel closed")

// Transport is the pub/sub collaborator of the bus: a durable backlog and a
// live broadcast, both keyed by recipient.
type Transport interface {
	// Publish stores the event in the recipient backlog under the next
	// sequence number and broadcasts it. Events of one recipient are appended
	// and broadcast in sequence order.
	Publish(ctx context.Context, e Event) (Event, error)
	// Listen attaches to the live channel of the recipient. The listener is
	// attached when Listen returns.
	Listen(ctx context.Context, recipient string) (Listener, error)
	// Backlog returns the stored events with a sequence greater than afterSeq,
	// in sequence order.
	Backlog(ctx context.Context, recipient string, afterSeq uint64) ([]Event, error)
	// Trim drops the backlog entries of one analysis.
	Trim(ctx context.Context, recipient, analysisID string) (int64, error)
	Close() error
}

type Listener interface {
	// C is closed when the listener is closed or the live channel breaks.
	C() <-chan Event
	// Err reports why C was closed; nil after Close.
	Err() error
	Close() error
}
