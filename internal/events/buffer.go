package events

import "sync"

type message struct {
	event Event
	prev  *message
}

// buffer is an unbounded FIFO between a transport and a subscriber, so a slow
// reader never blocks the live channel.
type buffer struct {
	lock   sync.Mutex
	head   *message
	tail   *message
	size   int
	signal chan struct{}
}

func newBuffer() *buffer {
	return &buffer{signal: make(chan struct{}, 1)}
}

func (b *buffer) PushBack(e Event) {
	b.lock.Lock()
	msg := &message{event: e}
	if b.head == nil {
		b.head = msg
		b.tail = msg
	} else {
		b.tail.prev = msg
		b.tail = msg
	}
	b.size++
	b.lock.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *buffer) Pop() (Event, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.head == nil {
		return Event{}, false
	}
	tmp := b.head
	if b.head.prev != nil {
		b.head = b.head.prev
	} else {
		// removing the last one
		b.head = nil
		b.tail = nil
	}
	b.size--
	return tmp.event, true
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}

// drain forwards buffered events to out in order until done is closed.
func (b *buffer) drain(out chan<- Event, done <-chan struct{}) {
	for {
		e, ok := b.Pop()
		if !ok {
			select {
			case <-b.signal:
				continue
			case <-done:
				return
			}
		}
		select {
		case out <- e:
		case <-done:
			return
		}
	}
}
