package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisFanout relays envelopes between gateway instances over one pub/sub
// channel. Every instance, the publisher included, delivers what it receives.
type RedisFanout struct {
	client    redis.UniversalClient
	channel   string
	ready     chan struct{}
	readyOnce sync.Once
}

func NewRedisFanout(client redis.UniversalClient, channel string) *RedisFanout {
	if channel == "" {
		channel = "millat:realtime"
	}
	return &RedisFanout{client: client, channel: channel, ready: make(chan struct{})}
}

func (f *RedisFanout) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// Ready is closed once the subscription is confirmed.
func (f *RedisFanout) Ready() <-chan struct{} { return f.ready }

func (f *RedisFanout) Listen(ctx context.Context, deliver func(Envelope)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}
	f.readyOnce.Do(func() { close(f.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("realtime fanout dropped malformed envelope", "channel", f.channel, "error", err.Error())
				continue
			}
			deliver(env)
		}
	}
}
