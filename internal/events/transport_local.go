package events

import (
	"context"
	"sync"

	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/store/model"
	"github.com/qiita/qiita-ware/internal/util"
)

// LocalTransport keeps the backlog in the store and broadcasts inside the
// process. It serves single instance deployments and tests.
type LocalTransport struct {
	store     store.Store
	locks     *util.KeyedMutex
	mu        sync.RWMutex
	listeners map[string]map[*localListener]struct{}
}

var _ Transport = (*LocalTransport)(nil)

func NewLocalTransport(s store.Store) *LocalTransport {
	return &LocalTransport{
		store:     s,
		locks:     util.NewKeyedMutex(),
		listeners: make(map[string]map[*localListener]struct{}),
	}
}

func (t *LocalTransport) Publish(ctx context.Context, e Event) (Event, error) {
	payload, err := encode(e)
	if err != nil {
		return Event{}, err
	}

	unlock := t.locks.Lock(e.Recipient)
	defer unlock()

	stored, err := t.store.Event().Append(ctx, model.NotificationEvent{
		Recipient:  e.Recipient,
		AnalysisID: e.AnalysisID,
		Kind:       string(e.Kind),
		Payload:    string(payload),
	})
	if err != nil {
		return Event{}, err
	}
	e.Seq = stored.Seq

	t.mu.RLock()
	for l := range t.listeners[e.Recipient] {
		l.buf.PushBack(e)
	}
	t.mu.RUnlock()

	return e, nil
}

func (t *LocalTransport) Listen(ctx context.Context, recipient string) (Listener, error) {
	l := &localListener{
		transport: t,
		recipient: recipient,
		buf:       newBuffer(),
		out:       make(chan Event),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	if t.listeners[recipient] == nil {
		t.listeners[recipient] = make(map[*localListener]struct{})
	}
	t.listeners[recipient][l] = struct{}{}
	t.mu.Unlock()

	go func() {
		defer close(l.out)
		l.buf.drain(l.out, l.done)
	}()
	return l, nil
}

func (t *LocalTransport) Backlog(ctx context.Context, recipient string, afterSeq uint64) ([]Event, error) {
	return backlogFromStore(ctx, t.store, recipient, afterSeq)
}

func (t *LocalTransport) Trim(ctx context.Context, recipient, analysisID string) (int64, error) {
	return t.store.Event().DeleteByAnalysis(ctx, recipient, analysisID)
}

func (t *LocalTransport) Close() error {
	t.mu.Lock()
	var all []*localListener
	for _, ls := range t.listeners {
		for l := range ls {
			all = append(all, l)
		}
	}
	t.mu.Unlock()

	for _, l := range all {
		_ = l.Close()
	}
	return nil
}

func (t *LocalTransport) detach(l *localListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.listeners[l.recipient], l)
	if len(t.listeners[l.recipient]) == 0 {
		delete(t.listeners, l.recipient)
	}
}

type localListener struct {
	transport *LocalTransport
	recipient string
	buf       *buffer
	out       chan Event
	done      chan struct{}
	once      sync.Once
}

func (l *localListener) C() <-chan Event { return l.out }

func (l *localListener) Err() error { return nil }

func (l *localListener) Close() error {
	l.once.Do(func() {
		l.transport.detach(l)
		close(l.done)
	})
	return nil
}

// backlogFromStore reads the store backlog; the sequence column is
// authoritative over the stored payload.
func backlogFromStore(ctx context.Context, s store.Store, recipient string, afterSeq uint64) ([]Event, error) {
	stored, err := s.Event().List(ctx, recipient, afterSeq)
	if err != nil {
		return nil, err
	}

	backlog := make([]Event, 0, len(stored))
	for _, se := range stored {
		e, err := decode(recipient, []byte(se.Payload))
		if err != nil {
			return nil, err
		}
		e.Seq = se.Seq
		backlog = append(backlog, e)
	}
	return backlog, nil
}
