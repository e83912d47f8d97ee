// Package redis mirrors outbound relay envelopes to Redis so other services
// can follow the live stream without holding a viewer socket.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"orderflow-relay/internal/model"
)

const (
	channelPrefix    = "pub:orderflow:"
	latestPrefix     = "latest:orderflow:"
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	// LatestTTL bounds how long the last envelope of each type is kept.
	LatestTTL time.Duration
}

// Publisher PUBLISHes every envelope on pub:orderflow:<type> and keeps the
// most recent one under latest:orderflow:<type>.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	ttl     time.Duration

	// Optional hooks
	OnError        func(err error)
	OnBreakerState func(to State)
}

var _ model.EnvelopePublisher = (*Publisher)(nil)

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}

	p := &Publisher{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
		ttl:     ttl,
	}
	p.breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
		if p.OnBreakerState != nil {
			p.OnBreakerState(to)
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return p, nil
}

// Publish pipelines PUBLISH + SET latest for one envelope.
func (p *Publisher) Publish(ctx context.Context, msgType string, payload []byte) error {
	return p.breaker.Execute(func() error {
		data := string(payload)
		pipe := p.client.Pipeline()
		pipe.Set(ctx, latestPrefix+msgType, data, p.ttl)
		pipe.Publish(ctx, channelPrefix+msgType, data)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Run mirrors frames until ctx is cancelled or frames is closed.
// Failures are logged and never stop the loop.
func (p *Publisher) Run(ctx context.Context, frames <-chan model.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := p.Publish(ctx, f.Type, f.Payload); err != nil {
				if p.OnError != nil {
					p.OnError(err)
				}
				if err != ErrCircuitOpen {
					log.Printf("[redis] publish %s: %v", f.Type, err)
				}
			}
		}
	}
}

// Latest returns the last mirrored envelope of msgType, or nil if none.
func (p *Publisher) Latest(ctx context.Context, msgType string) ([]byte, error) {
	b, err := p.client.Get(ctx, latestPrefix+msgType).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", latestPrefix+msgType, err)
	}
	return b, nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
