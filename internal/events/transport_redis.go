package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// publishScript allocates the sequence, appends to the backlog list and
// publishes in one atomic step, so list order, channel order and sequence
// order agree even with several publishing processes.
var publishScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
local entry = '{"seq":' .. seq .. ',' .. ARGV[1]
redis.call('RPUSH', KEYS[2], entry)
redis.call('PUBLISH', ARGV[2], entry)
return seq
`)

// RedisTransport keeps the backlog in the "<recipient>:messages" list and
// broadcasts on the "<recipient>" channel.
type RedisTransport struct {
	client redis.UniversalClient
}

var _ Transport = (*RedisTransport)(nil)

func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{client: client}
}

func backlogKey(recipient string) string  { return recipient + ":messages" }
func sequenceKey(recipient string) string { return recipient + ":seq" }

func (t *RedisTransport) Publish(ctx context.Context, e Event) (Event, error) {
	payload, err := encode(e)
	if err != nil {
		return Event{}, err
	}

	// payload starts with '{' and has at least the kind field
	seq, err := publishScript.Run(ctx, t.client,
		[]string{sequenceKey(e.Recipient), backlogKey(e.Recipient)},
		string(payload[1:]), e.Recipient,
	).Uint64()
	if err != nil {
		return Event{}, fmt.Errorf("redis publish: %w", err)
	}

	e.Seq = seq
	return e, nil
}

func (t *RedisTransport) Listen(ctx context.Context, recipient string) (Listener, error) {
	pubsub := t.client.Subscribe(ctx, recipient)
	// Receive waits for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	l := &redisListener{
		pubsub: pubsub,
		buf:    newBuffer(),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}

	ch := pubsub.Channel()
	go func() {
		for msg := range ch {
			e, err := decode(recipient, []byte(msg.Payload))
			if err != nil {
				zap.S().Named("redis_transport").Warnw("dropping undecodable message", "recipient", recipient, "error", err)
				continue
			}
			l.buf.PushBack(e)
		}
		l.fail(ErrListenerClosed)
	}()
	go func() {
		defer close(l.out)
		l.buf.drain(l.out, l.done)
	}()

	return l, nil
}

func (t *RedisTransport) Backlog(ctx context.Context, recipient string, afterSeq uint64) ([]Event, error) {
	entries, err := t.client.LRange(ctx, backlogKey(recipient), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis backlog: %w", err)
	}

	backlog := make([]Event, 0, len(entries))
	for _, entry := range entries {
		e, err := decode(recipient, []byte(entry))
		if err != nil {
			return nil, err
		}
		if e.Seq > afterSeq {
			backlog = append(backlog, e)
		}
	}
	return backlog, nil
}

func (t *RedisTransport) Trim(ctx context.Context, recipient, analysisID string) (int64, error) {
	key := backlogKey(recipient)
	entries, err := t.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis trim: %w", err)
	}

	var removed int64
	for _, entry := range entries {
		e, err := decode(recipient, []byte(entry))
		if err != nil || e.AnalysisID != analysisID {
			continue
		}
		n, err := t.client.LRem(ctx, key, 1, entry).Result()
		if err != nil {
			return removed, fmt.Errorf("redis trim: %w", err)
		}
		removed += n
	}
	return removed, nil
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisListener struct {
	pubsub *redis.PubSub
	buf    *buffer
	out    chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func (l *redisListener) C() <-chan Event { return l.out }

func (l *redisListener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// fail ends the listener because the live channel broke.
func (l *redisListener) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *redisListener) Close() error {
	l.once.Do(func() {
		close(l.done)
	})
	return l.pubsub.Close()
}
