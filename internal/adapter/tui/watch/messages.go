// Package watch implements a Bubble Tea view of a live streaming session:
// connection state, frame counters and the event bus tail.
package watch

import (
	"time"

	"isaac-client/internal/domain"
)

// EventBusMsg wraps a domain.Event from the bus subscription.
type EventBusMsg struct {
	Event domain.Event
}

// tickMsg refreshes the polled client and steering snapshots.
type tickMsg time.Time
