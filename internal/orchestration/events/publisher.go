package events

import (
	"context"
	"sync"
	"time"

	"github.com/foreflux/conductor/internal/pubsub"
)

// SubscribeOptions configures a single subscription's view of the event
// stream.
type SubscribeOptions struct {
	// MinDepth/MaxDepth filter hierarchical job events; zero MaxDepth
	// means unlimited. Events outside the range are silently dropped for
	// this subscriber only.
	MinDepth int
	MaxDepth int

	// RatePerSecond and Burst configure a token-bucket rate limiter for
	// this subscriber. RatePerSecond <= 0 disables rate limiting.
	RatePerSecond float64
	Burst         int

	// BufferSize is the subscriber's own channel capacity. Defaults to 64.
	BufferSize int
}

const defaultHeartbeatInterval = 10 * time.Second

// Publisher is the Event Publisher (C11). It wraps the generic pubsub
// broker with depth filtering, per-subscriber rate limiting, and idle
// heartbeats, per spec.md §4.11.
type Publisher struct {
	broker *pubsub.Broker[Event]

	mu            sync.Mutex
	lastPublished time.Time

	heartbeatInterval time.Duration
	stop              chan struct{}
	stopOnce          sync.Once
}

// NewPublisher constructs a Publisher and starts its heartbeat loop.
// heartbeatInterval <= 0 uses the 10s default from spec.md §4.11.
func NewPublisher(heartbeatInterval time.Duration) *Publisher {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	p := &Publisher{
		broker:            pubsub.NewBroker[Event](),
		lastPublished:     time.Now(),
		heartbeatInterval: heartbeatInterval,
		stop:              make(chan struct{}),
	}
	go p.heartbeatLoop()
	return p
}

// Publish fans an event out to every subscriber via the broker. Dropped
// events (a slow subscriber's channel is full) are never re-synthesized —
// per-topic order is preserved to each subscriber, but a drop is a drop,
// per spec.md §9's explicit resolution of the ordering-vs-drop-policy
// open question.
func (p *Publisher) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	p.mu.Lock()
	p.lastPublished = time.Now()
	p.mu.Unlock()

	p.broker.Publish(pubsub.CreatedEvent, e)
}

// Subscribe returns a channel of events filtered and rate-limited per
// opts. The channel is closed when ctx is cancelled or the Publisher is
// closed.
func (p *Publisher) Subscribe(ctx context.Context, opts SubscribeOptions) <-chan Event {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	raw := p.broker.Subscribe(ctx)
	out := make(chan Event, opts.BufferSize)

	var limiter *tokenBucket
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = newTokenBucket(opts.RatePerSecond, burst)
	}

	go func() {
		defer close(out)
		for ev := range raw {
			payload := ev.Payload
			if opts.MinDepth > 0 && payload.Depth < opts.MinDepth {
				continue
			}
			if opts.MaxDepth > 0 && payload.Depth > opts.MaxDepth {
				continue
			}
			if limiter != nil && !limiter.Allow() {
				continue // rate-limited: the subscriber loses this event, not the publisher
			}
			select {
			case out <- payload:
			default:
				// subscriber too slow: drop rather than block the fan-out goroutine
			}
		}
	}()

	return out
}

// Close shuts down the Publisher's broker and heartbeat loop.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.broker.Close()
}

// heartbeatLoop emits a heartbeat event every interval when no other
// event has been published since the previous heartbeat, so subscribers
// can detect staleness even on a quiet worker.
func (p *Publisher) heartbeatLoop() {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			idle := time.Since(p.lastPublished) >= p.heartbeatInterval
			p.mu.Unlock()
			if idle {
				now := float64(time.Now().UnixNano()) / float64(time.Second)
				p.Publish(Event{Kind: KindHeartbeat, Timestamp: now, Heartbeat: &HeartbeatPayload{Timestamp: now}})
			}
		}
	}
}
