package realtime

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClientForTest(t *testing.T) *redis.Client {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startFanout(t *testing.T, f *RedisFanout, deliver func(Envelope)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Listen(ctx, deliver)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-f.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("fanout subscription not ready")
	}
}

func TestRedisFanoutRoundTrip(t *testing.T) {
	client := newRedisClientForTest(t)
	fanout := NewRedisFanout(client, "test:realtime")
	got := make(chan Envelope, 1)
	startFanout(t, fanout, func(env Envelope) { got <- env })

	frame, _ := newFrame(EventNewMessage, map[string]int{"id": 1})
	if err := fanout.Publish(context.Background(), Envelope{Room: "conversation:1", Frame: frame, Except: "abc"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case env := <-got:
		if env.Room != "conversation:1" || env.Except != "abc" || env.Frame.Event != EventNewMessage {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestRedisFanoutCrossInstanceDelivery(t *testing.T) {
	client := newRedisClientForTest(t)

	sender := newGatewayHarness(t, NewRedisFanout(client, "test:realtime"), Options{})
	receiverFanout := NewRedisFanout(client, "test:realtime")
	receiver := newGatewayHarness(t, receiverFanout, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = receiver.gateway.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-receiverFanout.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not subscribed")
	}

	conn := receiver.connect(t, student)
	sender.gateway.NotifyNewConversation(context.Background(), student, map[string]uint{"id": 7})

	if f := readFrame(t, conn); f.Event != EventNewConversation {
		t.Fatalf("expected new_conversation across instances, got %s", f.Event)
	}
}
