// Package notify publishes pipeline events to outbound channels. Delivery
// failures are logged and never surface to the caller.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType identifies a pipeline event
type EventType string

const (
	EventBetApproved      EventType = "bet_approved"
	EventBetRejected      EventType = "bet_rejected"
	EventBetVoided        EventType = "bet_voided"
	EventBetSettled       EventType = "bet_settled"
	EventBankrollRepair   EventType = "bankroll_repair"
	EventDrawdownBreach   EventType = "drawdown_breach"
	EventEmergencyStop    EventType = "emergency_stop"
	EventFactorTransition EventType = "factor_transition"
)

// Event is a single notification
type Event struct {
	Type       EventType              `json:"type"`
	Key        string                 `json:"key"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, key string, payload map[string]interface{}) Event {
	return Event{Type: t, Key: key, OccurredAt: time.Now().UTC(), Payload: payload}
}

// Publisher sends events. Implementations must not block the caller on delivery failures.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop discards all events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log *logrus.Entry
}

// NewLogPublisher creates a publisher backed by logrus.
func NewLogPublisher(log *logrus.Logger) *LogPublisher {
	return &LogPublisher{log: log.WithField("component", "notify")}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event Event) {
	p.log.WithFields(logrus.Fields{
		"event_type": event.Type,
		"key":        event.Key,
		"payload":    event.Payload,
	}).Info("Event published")
}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, event Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, event)
		}
	}
}
