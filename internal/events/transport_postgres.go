package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/store/model"
	"go.uber.org/zap"
)

// PostgresTransport keeps the backlog in the store tables and broadcasts with
// NOTIFY from the append transaction. Notifications are delivered on commit,
// and commits of one recipient are ordered by the sequence row lock.
type PostgresTransport struct {
	store store.Store
	pool  *pgxpool.Pool
}

var _ Transport = (*PostgresTransport)(nil)

func NewPostgresTransport(s store.Store, pool *pgxpool.Pool) *PostgresTransport {
	return &PostgresTransport{store: s, pool: pool}
}

// channelName maps a recipient to a valid, bounded postgres identifier.
func channelName(recipient string) string {
	sum := sha256.Sum256([]byte(recipient))
	return "qiita_events_" + hex.EncodeToString(sum[:12])
}

func (t *PostgresTransport) Publish(ctx context.Context, e Event) (published Event, err error) {
	payload, err := encode(e)
	if err != nil {
		return Event{}, err
	}

	ctx, err = t.store.NewTransactionContext(ctx)
	if err != nil {
		return Event{}, err
	}
	defer func() {
		if err != nil {
			_, _ = store.Rollback(ctx)
		}
	}()

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

	notification, err := json.Marshal(e)
	if err != nil {
		return Event{}, err
	}
	if err = t.store.Event().Notify(ctx, channelName(e.Recipient), string(notification)); err != nil {
		return Event{}, err
	}

	if _, err = store.Commit(ctx); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (t *PostgresTransport) Listen(ctx context.Context, recipient string) (Listener, error) {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}

	channel := pgx.Identifier{channelName(recipient)}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	l := &pgListener{
		conn:    conn,
		channel: channel,
		cancel:  cancel,
		buf:     newBuffer(),
		out:     make(chan Event),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(l.stopped)
		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if !errors.Is(listenCtx.Err(), context.Canceled) {
					l.fail(fmt.Errorf("%w: %w", ErrListenerClosed, err))
				}
				return
			}
			e, err := decode(recipient, []byte(n.Payload))
			if err != nil {
				zap.S().Named("postgres_transport").Warnw("dropping undecodable notification", "recipient", recipient, "error", err)
				continue
			}
			l.buf.PushBack(e)
		}
	}()
	go func() {
		defer close(l.out)
		l.buf.drain(l.out, l.done)
	}()

	return l, nil
}

func (t *PostgresTransport) Backlog(ctx context.Context, recipient string, afterSeq uint64) ([]Event, error) {
	return backlogFromStore(ctx, t.store, recipient, afterSeq)
}

func (t *PostgresTransport) Trim(ctx context.Context, recipient, analysisID string) (int64, error) {
	return t.store.Event().DeleteByAnalysis(ctx, recipient, analysisID)
}

// Close is a no-op; the pool belongs to the caller.
func (t *PostgresTransport) Close() error {
	return nil
}

type pgListener struct {
	conn    *pgxpool.Conn
	channel string
	cancel  context.CancelFunc
	buf     *buffer
	out     chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
}

func (l *pgListener) C() <-chan Event { return l.out }

func (l *pgListener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *pgListener) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *pgListener) Close() error {
	l.once.Do(func() {
		close(l.done)
	})
	l.cancel()
	<-l.stopped

	var err error
	if l.conn != nil {
		// the connection returns to the pool, it must not keep listening
		_, err = l.conn.Exec(context.Background(), "UNLISTEN "+l.channel)
		l.conn.Release()
		l.conn = nil
	}
	return err
}
