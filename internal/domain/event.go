package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventConnectionOpening EventType = "connection.opening"
	EventConnectionOpened  EventType = "connection.opened"
	EventConnectionClosed  EventType = "connection.closed"
	EventConnectionError   EventType = "connection.error"

	EventObserveSent  EventType = "observe.sent"
	EventFeedbackSent EventType = "feedback.sent"
	EventSessionInfo  EventType = "session.info"

	EventFrameDelivered EventType = "frame.delivered"
	EventFrameDropped   EventType = "frame.dropped"
	EventFrameStale     EventType = "frame.stale"

	// Reconnect supervisor events.
	EventReconnectScheduled EventType = "reconnect.scheduled"
	EventReconnectGaveUp    EventType = "reconnect.gave_up"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ClosePayload is the payload of EventConnectionClosed.
type ClosePayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
	Remote bool   `json:"remote"`
}

// FramePayload is the payload of the frame.* events.
type FramePayload struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// NewEvent builds an event with a JSON payload. A payload that fails to
// marshal is left empty.
func NewEvent(t EventType, sessionID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
