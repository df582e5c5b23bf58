package broadcast

import (
	"context"

	"github.com/ideahub/server/cache"
	"go.uber.org/zap"
)

// Sink delivers a raw client message to every local connection.
type Sink interface {
	BroadcastAll(raw []byte)
}

// Relay forwards messages from the shared channel to a local Sink.
type Relay struct {
	msgs   <-chan *cache.Message
	cancel func()
	sink   Sink
	logger *zap.Logger
}

// NewRelay subscribes immediately, so nothing published after it returns
// is missed.
func NewRelay(ctx context.Context, ps cache.PubSub, sink Sink, logger *zap.Logger) (*Relay, error) {
	msgs, cancel, err := ps.Subscribe(ctx, Channel)
	if err != nil {
		return nil, err
	}
	return &Relay{msgs: msgs, cancel: cancel, sink: sink, logger: logger}, nil
}

// Run forwards until ctx is done or the subscription closes.
func (r *Relay) Run(ctx context.Context) error {
	defer r.cancel()
	r.logger.Info("broadcast relay started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("broadcast relay stopped")
			return nil
		case msg, ok := <-r.msgs:
			if !ok {
				return nil
			}
			r.sink.BroadcastAll([]byte(msg.Payload))
		}
	}
}
