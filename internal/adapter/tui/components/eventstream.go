// Package components holds the reusable Bubble Tea widgets of the watch view.
package components

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"isaac-client/internal/adapter/tui/theme"
	"isaac-client/internal/domain"
)

const maxEventEntries = 500

// EventStreamModel is a scrollable list of bus events that follows the tail
// while the viewport sits at the bottom.
type EventStreamModel struct {
	Viewport viewport.Model
	events   []domain.Event
	filter   string // event type prefix; empty shows all
	ready    bool
	atBottom bool
}

// NewEventStream creates an event stream viewer.
func NewEventStream() EventStreamModel {
	return EventStreamModel{atBottom: true}
}

// SetSize sets the viewport dimensions.
func (m *EventStreamModel) SetSize(w, h int) {
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refreshContent()
}

// SetFilter restricts the view to event types with the given prefix.
func (m *EventStreamModel) SetFilter(prefix string) {
	m.filter = prefix
	m.refreshContent()
}

// AddEvent appends an event, dropping the oldest past maxEventEntries.
func (m *EventStreamModel) AddEvent(event domain.Event) {
	m.events = append(m.events, event)
	if len(m.events) > maxEventEntries {
		m.events = m.events[len(m.events)-maxEventEntries:]
	}
	m.refreshContent()
	if m.atBottom && m.ready {
		m.Viewport.GotoBottom()
	}
}

// Update handles viewport scrolling.
func (m EventStreamModel) Update(msg tea.Msg) (EventStreamModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// EventCount returns the number of buffered events.
func (m EventStreamModel) EventCount() int {
	return len(m.events)
}

// FilteredCount returns the number of buffered events matching the filter.
func (m EventStreamModel) FilteredCount() int {
	return m.CountPrefix(m.filter)
}

// CountPrefix returns the number of buffered events whose type starts with
// prefix. An empty prefix counts everything.
func (m EventStreamModel) CountPrefix(prefix string) int {
	if prefix == "" {
		return len(m.events)
	}
	count := 0
	for _, evt := range m.events {
		if strings.HasPrefix(string(evt.Type), prefix) {
			count++
		}
	}
	return count
}

// View renders the event stream.
func (m EventStreamModel) View() string {
	if !m.ready {
		return ""
	}
	return m.Viewport.View()
}

func (m *EventStreamModel) refreshContent() {
	if !m.ready {
		return
	}
	if len(m.events) == 0 {
		m.Viewport.SetContent(theme.TextMuted.Render("  Waiting for events" + theme.SymbolEllipsis))
		return
	}

	var sb strings.Builder
	for _, evt := range m.events {
		if m.filter != "" && !strings.HasPrefix(string(evt.Type), m.filter) {
			continue
		}
		sb.WriteString(FormatEvent(evt))
		sb.WriteByte('\n')
	}
	m.Viewport.SetContent(sb.String())
}

// FormatEvent renders one event as a styled line.
func FormatEvent(evt domain.Event) string {
	eventType := string(evt.Type)
	padded := fmt.Sprintf("%-22s", eventType)

	var typeStyled string
	switch {
	case evt.Type == domain.EventConnectionError, evt.Type == domain.EventReconnectGaveUp:
		typeStyled = theme.TextError.Render(padded)
	case evt.Type == domain.EventFrameDropped, evt.Type == domain.EventFrameStale:
		typeStyled = theme.TextWarning.Render(padded)
	case strings.HasPrefix(eventType, "frame."):
		typeStyled = theme.TextInfo.Render(padded)
	case strings.HasPrefix(eventType, "connection."), strings.HasPrefix(eventType, "reconnect."):
		typeStyled = theme.TextAccent.Render(padded)
	default:
		typeStyled = theme.TextMuted.Render(padded)
	}

	return fmt.Sprintf("  %s %s %s %s",
		theme.Dim.Render(evt.Timestamp.Format("15:04:05.000")),
		theme.EventSymbol(evt.Type),
		typeStyled,
		theme.TextMuted.Render(summarize(evt)),
	)
}

// summarize extracts the interesting payload fields of known event types.
func summarize(evt domain.Event) string {
	if len(evt.Payload) == 0 {
		return ""
	}
	switch evt.Type {
	case domain.EventFrameDelivered, domain.EventFrameDropped, domain.EventFrameStale:
		var p domain.FramePayload
		if json.Unmarshal(evt.Payload, &p) != nil {
			return ""
		}
		s := fmt.Sprintf("%dx%d ts=%d", p.Width, p.Height, p.Timestamp)
		if p.Error != "" {
			s += " err=" + p.Error
		}
		return s
	case domain.EventConnectionClosed:
		var p domain.ClosePayload
		if json.Unmarshal(evt.Payload, &p) != nil {
			return ""
		}
		side := "local"
		if p.Remote {
			side = "remote"
		}
		if p.Reason == "" {
			return fmt.Sprintf("code=%d %s", p.Code, side)
		}
		return fmt.Sprintf("code=%d %s reason=%q", p.Code, side, p.Reason)
	default:
		s := string(evt.Payload)
		if len(s) > 80 {
			s = s[:80] + theme.SymbolEllipsis
		}
		return s
	}
}
