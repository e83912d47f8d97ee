package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"orderflow-relay/internal/model"
)

func newTestPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p, err := New(Config{Addr: mr.Addr(), LatestTTL: time.Minute})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, mr
}

func TestPublisher_PublishSetsLatestAndPublishes(t *testing.T) {
	p, mr := newTestPublisher(t)
	ctx := context.Background()

	sub := p.Client().Subscribe(ctx, "pub:orderflow:market_status")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload := []byte(`{"type":"market_status","is_market_hours":false,"market_status":"closed"}`)
	if err := p.Publish(ctx, "market_status", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != string(payload) {
			t.Fatalf("unexpected payload: %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pubsub message")
	}

	got, err := p.Latest(ctx, "market_status")
	if err != nil || string(got) != string(payload) {
		t.Fatalf("latest: %s err=%v", got, err)
	}
	if ttl := mr.TTL("latest:orderflow:market_status"); ttl != time.Minute {
		t.Fatalf("expected 1m TTL, got %v", ttl)
	}
}

func TestPublisher_RunDrainsFrames(t *testing.T) {
	p, mr := newTestPublisher(t)

	frames := make(chan model.Frame, 2)
	frames <- model.Frame{Type: "quote_update", Payload: []byte(`{"type":"quote_update"}`)}
	frames <- model.Frame{Type: "depth_update", Payload: []byte(`{"type":"depth_update"}`)}
	close(frames)

	p.Run(context.Background(), frames)

	for _, k := range []string{"latest:orderflow:quote_update", "latest:orderflow:depth_update"} {
		if !mr.Exists(k) {
			t.Errorf("expected key %s", k)
		}
	}
}

func TestPublisher_BreakerOpensWhenRedisDown(t *testing.T) {
	p, mr := newTestPublisher(t)
	mr.Close()

	ctx := context.Background()
	var lastErr error
	for i := 0; i < 6; i++ {
		lastErr = p.Publish(ctx, "depth_update", []byte(`{}`))
	}
	if lastErr != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen after repeated failures, got %v", lastErr)
	}
}

func TestLatest_MissingKey(t *testing.T) {
	p, _ := newTestPublisher(t)
	got, err := p.Latest(context.Background(), "nothing")
	if err != nil || got != nil {
		t.Fatalf("expected nil,nil got %s,%v", got, err)
	}
}
