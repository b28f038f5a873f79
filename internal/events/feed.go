package events

import (
	"context"
	"sync"
)

// Topic helpers name the change channels watchers listen on.
func InboxTopic(userID string) string { return "inbox:" + userID }

// ThreadTopic names the change channel for one thread's message log.
func ThreadTopic(threadID string) string { return "thread:" + threadID }

// Feed fans change notices out to subscribers of a topic. Notices carry no
// data; subscribers re-read the store when woken.
type Feed interface {
	Notify(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription delivers coalesced change notices until closed.
type Subscription interface {
	C() <-chan struct{}
	Close() error
}

// signal performs a non-blocking send on a one-slot channel, folding
// bursts into a single pending notice.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type memoryFeed struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*memorySubscription
}

// NewMemoryFeed creates an in-process feed.
func NewMemoryFeed() Feed {
	return &memoryFeed{subs: make(map[string]map[uint64]*memorySubscription)}
}

func (f *memoryFeed) Notify(_ context.Context, topic string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs[topic] {
		signal(sub.ch)
	}
	return nil
}

func (f *memoryFeed) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &memorySubscription{feed: f, topic: topic, id: f.nextID, ch: make(chan struct{}, 1)}
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[uint64]*memorySubscription)
	}
	f.subs[topic][sub.id] = sub
	return sub, nil
}

func (f *memoryFeed) remove(sub *memorySubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[sub.topic], sub.id)
	if len(f.subs[sub.topic]) == 0 {
		delete(f.subs, sub.topic)
	}
}

type memorySubscription struct {
	feed  *memoryFeed
	topic string
	id    uint64
	ch    chan struct{}
	once  sync.Once
}

func (s *memorySubscription) C() <-chan struct{} { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() { s.feed.remove(s) })
	return nil
}
