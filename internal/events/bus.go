package events

import (
	"sync"
	"time"
)

// Message is what subscribers receive.
type Message struct {
	Topic   Event
	Payload any
	At      time.Time
}

// Bus is a pub/sub broker with explicit subscriber lists. Every subscriber
// owns an unbounded pending queue drained by its own goroutine, so Publish
// never blocks on a slow reader and never drops a message.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]*subscriber
	now  func() time.Time
}

type subscriber struct {
	out     chan Message
	mu      sync.Mutex
	pending []Message
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]*subscriber), now: time.Now}
}

// Subscribe registers a listener for one event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Message, func()) {
	return b.SubscribeMany(buffer, e)
}

// SubscribeMany registers one listener for several events. Messages from all
// of them arrive on the same channel in publish order.
func (b *Bus) SubscribeMany(buffer int, topics ...Event) (<-chan Message, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{
		out:  make(chan Message, buffer),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.pump()

	b.mu.Lock()
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], s)
	}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		for _, e := range topics {
			list := b.subs[e]
			for i, c := range list {
				if c == s {
					b.subs[e] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		}
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
	}
	return s.out, unsub
}

// Publish appends the payload to every subscriber's queue.
func (b *Bus) Publish(e Event, payload any) {
	msg := Message{Topic: e, Payload: payload, At: b.now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[e] {
		s.push(msg)
	}
}

// Subscribers returns the number of listeners on e.
func (b *Bus) Subscribers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[e])
}

func (s *subscriber) push(m Message) {
	s.mu.Lock()
	s.pending = append(s.pending, m)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.done:
				return
			case <-s.wake:
				continue
			}
		}
		m := s.pending[0]
		s.pending[0] = Message{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- m:
		case <-s.done:
			return
		}
	}
}
