package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscription struct {
	ch     chan *LocalMessage
	topics []string
}

// LocalPubSub is an in-process fan-out pub/sub implementation. Slow
// subscribers lose messages instead of blocking publishers.
type LocalPubSub struct {
	mu      sync.RWMutex
	byTopic map[string]map[*subscription]struct{}
	bufSize int
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		byTopic: make(map[string]map[*subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for s := range ps.byTopic[channel] {
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers one subscriber for all given channels. The returned
// cancel func unregisters it and closes the message channel; it is
// idempotent. Cancellation of ctx has the same effect.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	sub := &subscription{ch: make(chan *LocalMessage, ps.bufSize), topics: channels}

	ps.mu.Lock()
	for _, topic := range channels {
		set, ok := ps.byTopic[topic]
		if !ok {
			set = make(map[*subscription]struct{})
			ps.byTopic[topic] = set
		}
		set[sub] = struct{}{}
	}
	ps.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.mu.Lock()
			for _, topic := range sub.topics {
				delete(ps.byTopic[topic], sub)
				if len(ps.byTopic[topic]) == 0 {
					delete(ps.byTopic, topic)
				}
			}
			ps.mu.Unlock()
			close(sub.ch)
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return sub.ch, cancel, nil
}
