// Package events carries operational events from the agent loop, job
// runner, scheduler and maintenance pass to live subscribers such as the
// /v1/events websocket. The bus is nil-safe: Publish on a nil *Bus is a
// no-op, so components never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent       = "agent"
	SourceJobs        = "jobs"
	SourceScheduler   = "scheduler"
	SourceMaintenance = "maintenance"
)

// Kinds.
const (
	// KindTurnStart: user_id, message_len.
	KindTurnStart = "turn_start"
	// KindToolCall: user_id or job_id, tool, ok.
	KindToolCall = "tool_call"
	// KindTurnComplete: user_id, iterations, tools, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindJobStatus: job_id, status, and error when failed.
	KindJobStatus = "job_status"
	// KindScheduleFired: schedule_id, job_id.
	KindScheduleFired = "schedule_fired"
	// KindMaintenanceComplete: pruned, merged.
	KindMaintenanceComplete = "maintenance_complete"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Subscribers receive events on
// buffered channels; a full subscriber misses events instead of
// blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an event bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Emit stamps and publishes an event. Safe on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now().UTC(), Source: source, Kind: kind, Data: data})
}

// Publish delivers e to every subscriber with room for it. Safe on a
// nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel buffered to bufSize. Call Unsubscribe
// when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription. Unknown channels are
// ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
