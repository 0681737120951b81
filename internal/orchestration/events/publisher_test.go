package events

import (
	"context"
	"testing"
	"time"
)

func TestPublisher_SubscribeReceivesEvent(t *testing.T) {
	p := NewPublisher(time.Hour) // long heartbeat so it doesn't interfere
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, SubscribeOptions{})

	p.Publish(Event{Kind: KindLine, WorkerID: "w1", Line: &LinePayload{WorkerID: "w1", Content: "hello"}})

	select {
	case ev := <-ch:
		if ev.Kind != KindLine || ev.Line.Content != "hello" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublisher_DepthFiltering(t *testing.T) {
	p := NewPublisher(time.Hour)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, SubscribeOptions{MinDepth: 2, MaxDepth: 3})

	p.Publish(Event{Kind: KindLine, Depth: 1})
	p.Publish(Event{Kind: KindLine, Depth: 2, Line: &LinePayload{Content: "in-range"}})
	p.Publish(Event{Kind: KindLine, Depth: 5})

	select {
	case ev := <-ch:
		if ev.Line == nil || ev.Line.Content != "in-range" {
			t.Fatalf("expected in-range event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for in-range event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("expected no further events, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublisher_RateLimiting(t *testing.T) {
	p := NewPublisher(time.Hour)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, SubscribeOptions{RatePerSecond: 1000, Burst: 1})

	for i := 0; i < 5; i++ {
		p.Publish(Event{Kind: KindLine})
	}

	received := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-ch:
			received++
		case <-timeout:
			break loop
		}
	}
	if received == 0 || received >= 5 {
		t.Fatalf("expected rate limiting to drop some events, received %d of 5", received)
	}
}

func TestPublisher_HeartbeatWhenIdle(t *testing.T) {
	p := NewPublisher(30 * time.Millisecond)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, SubscribeOptions{})

	select {
	case ev := <-ch:
		if ev.Kind != KindHeartbeat {
			t.Fatalf("expected heartbeat, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestPublisher_CloseClosesSubscribers(t *testing.T) {
	p := NewPublisher(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, SubscribeOptions{})

	p.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed or drained, not yield a value")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber channel to close")
	}
}
