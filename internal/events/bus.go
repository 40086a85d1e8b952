package events

import (
	"context"
	"fmt"

	"github.com/qiita/qiita-ware/pkg/metrics"
	"go.uber.org/zap"
)

// Bus delivers events per recipient: every event is appended to the backlog
// and broadcast live, and subscribers see each sequence once, in order.
type Bus struct {
	transport Transport
}

func NewBus(t Transport) *Bus {
	return &Bus{transport: t}
}

// Publish returns the event with its sequence number once it is both in the
// backlog and broadcast.
func (b *Bus) Publish(ctx context.Context, recipient string, e Event) (Event, error) {
	e.Recipient = recipient
	published, err := b.transport.Publish(ctx, e)
	if err != nil {
		metrics.IncreaseNotificationsTotalMetric(string(e.Kind), metrics.NotificationFailed)
		return Event{}, fmt.Errorf("publishing %s event to %q: %w", e.Kind, recipient, err)
	}
	metrics.IncreaseNotificationsTotalMetric(string(e.Kind), metrics.NotificationPublished)

	zap.S().Named("bus").Debugw("event published", "recipient", recipient, "seq", published.Seq, "kind", published.Kind, "job", published.Job)
	return published, nil
}

// Subscribe attaches to the live channel before reading the backlog, so no
// event published in between is lost. The subscription ends when ctx is done
// or Close is called.
func (b *Bus) Subscribe(ctx context.Context, recipient string) (*Subscription, error) {
	listener, err := b.transport.Listen(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("subscribing %q: %w", recipient, err)
	}

	snapshot, err := b.transport.Backlog(ctx, recipient, 0)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("reading backlog of %q: %w", recipient, err)
	}

	s := newSubscription(recipient, b.transport, listener)
	go s.run(ctx, snapshot)
	return s, nil
}

// Backlog returns the stored events of the recipient after afterSeq.
func (b *Bus) Backlog(ctx context.Context, recipient string, afterSeq uint64) ([]Event, error) {
	return b.transport.Backlog(ctx, recipient, afterSeq)
}

// Trim drops the backlog entries of one analysis. Redelivery of old events is
// harmless, so a failed trim is only reported.
func (b *Bus) Trim(ctx context.Context, recipient, analysisID string) error {
	removed, err := b.transport.Trim(ctx, recipient, analysisID)
	if err != nil {
		return fmt.Errorf("trimming backlog of %q: %w", recipient, err)
	}
	zap.S().Named("bus").Debugw("backlog trimmed", "recipient", recipient, "analysis_id", analysisID, "removed", removed)
	return nil
}

func (b *Bus) Close() error {
	return b.transport.Close()
}
