package orchestrator

import (
	"time"

	"github.com/familyhub/contextd/pkg/memory"
)

// EventType identifies an orchestrator event.
type EventType string

const (
	EventBreakerOpened   EventType = "breaker.opened"
	EventBreakerClosed   EventType = "breaker.closed"
	EventContextDegraded EventType = "context.degraded"
	EventSavePartial     EventType = "save.partial"
	EventSaveFailed      EventType = "save.failed"
)

// Event is published on breaker transitions and degraded operations.
type Event struct {
	Type           EventType     `json:"type"`
	Tier           memory.Tier   `json:"tier,omitempty"`
	Tiers          []memory.Tier `json:"tiers,omitempty"`
	OwnerID        string        `json:"owner_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	RecordID       string        `json:"record_id,omitempty"`
	Error          string        `json:"error,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// EventSink receives events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Recorder receives measurements. pkg/metrics provides the Prometheus one.
type Recorder interface {
	ObserveTierCall(tier memory.Tier, op string, d time.Duration, err error)
	SetBreakerState(tier memory.Tier, open bool)
	ObserveContext(d time.Duration, degraded []memory.Tier)
	ObserveSave(d time.Duration, partialFailures int, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTierCall(memory.Tier, string, time.Duration, error) {}
func (nopRecorder) SetBreakerState(memory.Tier, bool)                         {}
func (nopRecorder) ObserveContext(time.Duration, []memory.Tier)               {}
func (nopRecorder) ObserveSave(time.Duration, int, error)                     {}
