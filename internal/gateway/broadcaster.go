package gateway

import (
	"context"
	"sync"
	"time"

	"orderflow-relay/internal/model"
)

// retained lists the envelope types replayed to a viewer that joins late.
var retained = map[string]bool{
	TypeDepthUpdate:  true,
	TypeQuoteUpdate:  true,
	TypeMarketStatus: true,
}

// Broadcaster drains encoded frames into the hub. It remembers the latest
// frame of each retained type and records feed-to-viewer latency.
type Broadcaster struct {
	hub     *Hub
	Latency *LatencyTracker

	mu     sync.RWMutex
	latest map[string][]byte

	// Optional metrics hooks
	OnBroadcast func(msgType string, delivered int)
	OnLatency   func(d time.Duration)
}

// NewBroadcaster creates a Broadcaster backed by hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{
		hub:     hub,
		Latency: NewLatencyTracker(10000),
		latest:  make(map[string][]byte),
	}
}

// Run broadcasts frames until ctx is cancelled or in is closed.
func (b *Broadcaster) Run(ctx context.Context, in <-chan model.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			b.Broadcast(f)
		}
	}
}

// Broadcast sends one frame to every session.
func (b *Broadcaster) Broadcast(f model.Frame) {
	if retained[f.Type] {
		b.mu.Lock()
		b.latest[f.Type] = f.Payload
		b.mu.Unlock()
	}

	n := b.hub.Broadcast(f.Payload)

	if !f.At.IsZero() && n > 0 {
		d := time.Since(f.At)
		b.Latency.Record(float64(d.Microseconds()) / 1000.0)
		if b.OnLatency != nil {
			b.OnLatency(d)
		}
	}
	if b.OnBroadcast != nil {
		b.OnBroadcast(f.Type, n)
	}
}

// Latest returns the retained payloads for the given types, skipping any
// that have not been seen.
func (b *Broadcaster) Latest(types ...string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out [][]byte
	for _, t := range types {
		if p, ok := b.latest[t]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Forget drops retained payloads, e.g. after the active symbol changes.
func (b *Broadcaster) Forget(types ...string) {
	b.mu.Lock()
	for _, t := range types {
		delete(b.latest, t)
	}
	b.mu.Unlock()
}
