// Package events fans orchestrator events out to in-process subscribers
// such as the websocket stream.
package events

import (
	"sync"
	"time"

	"github.com/familyhub/contextd/pkg/orchestrator"
)

const defaultBuffer = 16

// Recorder receives event stream measurements.
type Recorder interface {
	RecordEventPublished(eventType string)
	RecordEventDropped()
	SetEventSubscribers(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEventPublished(string) {}
func (nopRecorder) RecordEventDropped()         {}
func (nopRecorder) SetEventSubscribers(int)     {}

// Subscription receives the events matching its owner filter on C. C is
// closed by Unsubscribe or Close.
type Subscription struct {
	C       <-chan orchestrator.Event
	ch      chan orchestrator.Event
	ownerID string
}

// OwnerID returns the owner filter; empty means every owner.
func (s *Subscription) OwnerID() string {
	return s.ownerID
}

func (s *Subscription) matches(e orchestrator.Event) bool {
	return s.ownerID == "" || e.OwnerID == "" || e.OwnerID == s.ownerID
}

// Broadcaster broadcasts events to in-process subscribers. It implements
// orchestrator.EventSink; Publish never blocks and drops events for
// subscribers whose buffer is full.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	rec         Recorder
	closed      bool
}

var _ orchestrator.EventSink = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster. A nil recorder disables metrics.
func NewBroadcaster(rec Recorder) *Broadcaster {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Broadcaster{
		subscribers: make(map[*Subscription]struct{}),
		rec:         rec,
	}
}

// Subscribe registers a subscriber. Events carrying another owner's id are
// not delivered when ownerID is set; tier-level events always are.
func (b *Broadcaster) Subscribe(ownerID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan orchestrator.Event, buffer)
	sub := &Subscription{C: ch, ch: ch, ownerID: ownerID}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	b.rec.SetEventSubscribers(len(b.subscribers))
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
	b.rec.SetEventSubscribers(len(b.subscribers))
}

// Publish delivers e to every matching subscriber.
func (b *Broadcaster) Publish(e orchestrator.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.rec.RecordEventPublished(string(e.Type))

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if !sub.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.rec.RecordEventDropped()
		}
	}
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels. Later subscriptions are closed
// immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
	b.closed = true
	b.rec.SetEventSubscribers(0)
}
