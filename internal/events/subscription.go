package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Subscription presents the backlog snapshot followed by live events. The
// high-water mark last drops every sequence already delivered, so an event
// both in the snapshot and on the live channel is seen once.
type Subscription struct {
	recipient string
	transport Transport
	listener  Listener
	out       chan Event
	done      chan struct{}
	once      sync.Once

	mu   sync.Mutex
	err  error
	last uint64
}

func newSubscription(recipient string, t Transport, l Listener) *Subscription {
	return &Subscription{
		recipient: recipient,
		transport: t,
		listener:  l,
		out:       make(chan Event),
		done:      make(chan struct{}),
	}
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.out }

// Err reports why Events was closed. It is nil after Close or ctx cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Last is the sequence number of the last delivered event.
func (s *Subscription) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

func (s *Subscription) run(ctx context.Context, snapshot []Event) {
	defer close(s.out)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	for _, e := range snapshot {
		if !s.deliver(e) {
			return
		}
	}

	live := s.listener.C()
	for {
		select {
		case <-s.done:
			return
		case e, ok := <-live:
			if !ok {
				s.setErr(s.listener.Err())
				return
			}
			if e.Seq > s.Last()+1 && !s.fill(ctx, e.Seq) {
				return
			}
			if !s.deliver(e) {
				return
			}
		}
	}
}

// fill delivers the backlog entries between the high-water mark and the live
// sequence that skipped ahead of it.
func (s *Subscription) fill(ctx context.Context, before uint64) bool {
	missing, err := s.transport.Backlog(ctx, s.recipient, s.Last())
	if err != nil {
		zap.S().Named("subscription").Warnw("failed to fill sequence gap", "recipient", s.recipient, "after", s.Last(), "before", before, "error", err)
		return true
	}
	for _, e := range missing {
		if e.Seq >= before {
			break
		}
		if !s.deliver(e) {
			return false
		}
	}
	return true
}

// deliver hands e to the reader unless its sequence was already delivered.
// It returns false when the subscription is closing.
func (s *Subscription) deliver(e Event) bool {
	if e.Seq <= s.Last() {
		return true
	}
	select {
	case s.out <- e:
	case <-s.done:
		return false
	}
	s.mu.Lock()
	s.last = e.Seq
	s.mu.Unlock()
	return true
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
