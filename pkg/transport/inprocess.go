package transport

import (
	"context"
	"errors"
	"sync"
)

// InProcessPubSub is a simple in-process pubsub implementation used for tests
// and single-process deployments.
type InProcessPubSub[T any] struct {
	subscriber     Subscriber[T]
	subscriberOnce sync.Once
}

func NewInProcessPubSub[T any]() *InProcessPubSub[T] {
	return &InProcessPubSub[T]{}
}

func (p *InProcessPubSub[T]) Publish(ctx context.Context, message T) error {
	if p.subscriber != nil {
		return p.subscriber.Handle(ctx, message)
	}
	return nil
}

func (p *InProcessPubSub[T]) Subscribe(ctx context.Context, subscriber Subscriber[T]) error {
	var firstSubscriber bool
	p.subscriberOnce.Do(func() {
		p.subscriber = subscriber
		firstSubscriber = true
	})
	if !firstSubscriber {
		return errors.New("only a single subscriber is allowed. Use ChainedSubscriber to chain multiple subscribers")
	}
	return nil
}

func (p *InProcessPubSub[T]) Close(ctx context.Context) error {
	return nil
}

// InMemorySubscriber records delivered messages. Test helper.
type InMemorySubscriber[T any] struct {
	events []T
	mu     sync.Mutex
}

func NewInMemorySubscriber[T any]() *InMemorySubscriber[T] {
	return &InMemorySubscriber[T]{
		events: make([]T, 0),
	}
}

func (s *InMemorySubscriber[T]) Handle(ctx context.Context, message T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, message)
	return nil
}

// Events returns the delivered messages and resets the subscriber.
func (s *InMemorySubscriber[T]) Events() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.events
	s.events = make([]T, 0)
	return res
}

// compile-time interface assertions
var _ PubSub[string] = (*InProcessPubSub[string])(nil)
var _ Subscriber[string] = (*InMemorySubscriber[string])(nil)
