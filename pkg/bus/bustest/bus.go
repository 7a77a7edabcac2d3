// Package bustest provides an in-memory bus for tests. It routes messages by
// exact topic match and delivers each one to every live subscription in its
// own goroutine, like the AMQP client does.
package bustest

import (
	"context"
	"errors"
	"sync"

	"github.com/bedive-215/tech-store-sub000/pkg/bus"
)

type subscription struct {
	ctx     context.Context
	handler bus.Handler
}

// Bus is an in-memory implementation of bus.Bus.
type Bus struct {
	mu         sync.Mutex
	subs       map[string][]*subscription
	published  map[string][][]byte
	publishErr error
	inflight   sync.WaitGroup
}

// New creates an empty in-memory bus.
func New() *Bus {
	return &Bus{
		subs:      make(map[string][]*subscription),
		published: make(map[string][][]byte),
	}
}

// FailPublishes makes every subsequent Publish return err. Pass nil to reset.
func (b *Bus) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Publish records the message and hands it to every subscriber of topic.
func (b *Bus) Publish(_ context.Context, topic string, message any) error {
	body, err := bus.Encode(message)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.published[topic] = append(b.published[topic], body)
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		if s.ctx.Err() != nil {
			continue
		}
		b.inflight.Add(1)
		go func(s *subscription) {
			defer b.inflight.Done()
			_ = s.handler(s.ctx, bus.Message{Topic: topic, Body: body})
		}(s)
	}
	return nil
}

// Subscribe registers handler for topic until ctx is done. The ack mode has
// no effect in memory.
func (b *Bus) Subscribe(ctx context.Context, topic string, _ bus.AckMode, handler bus.Handler) error {
	if handler == nil {
		return errors.New("bustest: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], &subscription{ctx: ctx, handler: handler})
	return nil
}

// Published returns the bodies published on topic so far.
func (b *Bus) Published(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[topic]...)
}

// Subscribers returns the number of subscriptions registered for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Wait blocks until every delivered message has been handled.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

var _ bus.Bus = (*Bus)(nil)
