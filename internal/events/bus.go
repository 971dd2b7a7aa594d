package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSessionStarted EventType = "SESSION_STARTED"
	EventSessionStopped EventType = "SESSION_STOPPED"
	EventPositionOpened EventType = "POSITION_OPENED"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventRiskStop       EventType = "RISK_STOP"
	EventFallbackFill   EventType = "FALLBACK_FILL"
	EventCloseFailed    EventType = "CLOSE_FAILED"
	EventError          EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"user_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer never blocks the engine.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSessionStarted publishes a session started event.
func (eb *EventBus) PublishSessionStarted(userID, sessionID, mode string) {
	eb.Publish(Event{
		Type:      EventSessionStarted,
		UserID:    userID,
		SessionID: sessionID,
		Data:      map[string]interface{}{"mode": mode},
	})
}

// PublishSessionStopped publishes a session stopped event.
func (eb *EventBus) PublishSessionStopped(userID, sessionID, reason string, realizedPnL float64) {
	eb.Publish(Event{
		Type:      EventSessionStopped,
		UserID:    userID,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"reason":       reason,
			"realized_pnl": realizedPnL,
		},
	})
}

// PublishPositionOpened publishes a position opened event.
func (eb *EventBus) PublishPositionOpened(userID, sessionID, symbol, side, venueName string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type:      EventPositionOpened,
		UserID:    userID,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        side,
			"venue":       venueName,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishPositionClosed publishes a position closed event.
func (eb *EventBus) PublishPositionClosed(userID, sessionID, symbol, reason string, closePrice, pnl float64) {
	eb.Publish(Event{
		Type:      EventPositionClosed,
		UserID:    userID,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"reason":      reason,
			"close_price": closePrice,
			"pnl":         pnl,
		},
	})
}

// PublishRiskStop publishes a risk limit breach that is stopping a session.
func (eb *EventBus) PublishRiskStop(userID, sessionID, reason string) {
	eb.Publish(Event{
		Type:      EventRiskStop,
		UserID:    userID,
		SessionID: sessionID,
		Data:      map[string]interface{}{"reason": reason},
	})
}

// PublishFallbackFill publishes a live order that degraded to a simulated
// fill.
func (eb *EventBus) PublishFallbackFill(userID, sessionID, symbol, reason string) {
	eb.Publish(Event{
		Type:      EventFallbackFill,
		UserID:    userID,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}

// PublishError publishes an error event.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
