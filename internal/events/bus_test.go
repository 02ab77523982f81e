package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceAgent, Kind: KindTurnStart})
	b.Emit(SourceJobs, KindJobStatus, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestEmit_FanOut(t *testing.T) {
	b := New()
	subs := []<-chan Event{b.Subscribe(4), b.Subscribe(4), b.Subscribe(4)}
	defer func() {
		for _, ch := range subs {
			b.Unsubscribe(ch)
		}
	}()

	b.Emit(SourceJobs, KindJobStatus, map[string]any{"job_id": "j1", "status": "running"})

	for i, ch := range subs {
		select {
		case got := <-ch:
			if got.Source != SourceJobs || got.Kind != KindJobStatus || got.Data["job_id"] != "j1" {
				t.Errorf("subscriber %d got %+v", i, got)
			}
			if got.Timestamp.IsZero() {
				t.Errorf("subscriber %d: Emit should stamp the event", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	if got := <-ch; got.Kind != "first" {
		t.Errorf("got kind %q, want first", got.Kind)
	}
	select {
	case evt := <-ch:
		t.Errorf("second event should have been dropped, got %v", evt)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	other := b.Subscribe(8)

	b.Unsubscribe(ch)
	b.Unsubscribe(ch) // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}
	b.Unsubscribe(other)
	b.Publish(Event{Source: SourceScheduler, Kind: KindScheduleFired})
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(64)

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for range ch {
		}
	}()

	var pubs sync.WaitGroup
	for i := range 8 {
		pubs.Add(1)
		go func() {
			defer pubs.Done()
			for j := range 100 {
				b.Emit(SourceAgent, KindToolCall, map[string]any{"publisher": i, "seq": j})
			}
		}()
	}
	pubs.Wait()
	b.Unsubscribe(ch)
	drained.Wait()
}
