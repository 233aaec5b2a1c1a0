package messaging

import (
	"context"
	"strings"
	"sync"
)

const defaultSubscriberBuffer = 16

// MemoryBroadcaster delivers casts to subscribers of the same process.
// A subscriber whose buffer is full misses the message.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	topics map[string]*topic
	closed bool
	buffer int
}

type topic struct {
	mu     sync.Mutex
	subs   map[uint64]*memorySubscription
	nextID uint64
}

type memorySubscription struct {
	b      *MemoryBroadcaster
	topic  string
	id     uint64
	ch     chan Message
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{
		topics: make(map[string]*topic),
		buffer: defaultSubscriberBuffer,
	}
}

func (b *MemoryBroadcaster) Cast(_ context.Context, name string, msg Message) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidTopic
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	t := b.topics[name]
	b.mu.RUnlock()
	if t == nil {
		return nil
	}

	t.mu.Lock()
	subs := make([]*memorySubscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context, name string, handler Handler) (Subscription, error) {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return nil, ErrInvalidTopic
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	t := b.topics[name]
	if t == nil {
		t = &topic{subs: make(map[uint64]*memorySubscription)}
		b.topics[name] = t
	}
	b.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Lock()
	sub := &memorySubscription{
		b:      b,
		topic:  name,
		id:     t.nextID,
		ch:     make(chan Message, b.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	t.nextID++
	t.subs[sub.id] = sub
	t.mu.Unlock()

	go sub.deliver(subCtx, handler)
	return sub, nil
}

func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]*topic)
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		subs := make([]*memorySubscription, 0, len(t.subs))
		for _, sub := range t.subs {
			subs = append(subs, sub)
		}
		t.mu.Unlock()
		for _, sub := range subs {
			sub.stop()
		}
	}
	return nil
}

func (b *MemoryBroadcaster) unsubscribe(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[name]
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.subs, id)
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(b.topics, name)
	}
}

func (s *memorySubscription) deliver(ctx context.Context, handler Handler) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.ch:
			handler(ctx, msg)
		}
	}
}

func (s *memorySubscription) stop() {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
	})
}

func (s *memorySubscription) Close() error {
	s.b.unsubscribe(s.topic, s.id)
	s.stop()
	return nil
}
