package components

import (
	"fmt"
	"strings"

	"isaac-client/internal/adapter/tui/theme"
)

// FilterOption is one selectable event type prefix.
type FilterOption struct {
	ID       string // event type prefix, e.g. "frame."
	Label    string
	Shortcut string
}

// FilterBarModel renders a horizontal filter bar with keyboard shortcuts and
// the number of buffered events behind each option.
type FilterBarModel struct {
	Options []FilterOption
	Active  string // empty = all
	Total   int
	counts  map[string]int
}

// Counter reports buffered event counts by type prefix.
type Counter interface {
	EventCount() int
	CountPrefix(prefix string) int
}

// NewFilterBar creates a filter bar with the given options.
func NewFilterBar(options []FilterOption) FilterBarModel {
	return FilterBarModel{Options: options}
}

// Toggle activates a filter. Toggling the active filter clears it.
func (m *FilterBarModel) Toggle(id string) {
	if m.Active == id {
		m.Active = ""
	} else {
		m.Active = id
	}
}

// HandleShortcut applies the filter bound to key and reports whether the key
// was consumed. "a" clears the filter.
func (m *FilterBarModel) HandleShortcut(key string) bool {
	for _, opt := range m.Options {
		if opt.Shortcut == key {
			m.Toggle(opt.ID)
			return true
		}
	}
	if key == "a" {
		m.Active = ""
		return true
	}
	return false
}

// Sync refreshes the total and per-option counts from c.
func (m *FilterBarModel) Sync(c Counter) {
	m.Total = c.EventCount()
	if m.counts == nil {
		m.counts = make(map[string]int, len(m.Options))
	}
	for _, opt := range m.Options {
		m.counts[opt.ID] = c.CountPrefix(opt.ID)
	}
}

// Count returns the last synced count for option id.
func (m FilterBarModel) Count(id string) int {
	return m.counts[id]
}

// Filtered returns the number of events the active filter shows.
func (m FilterBarModel) Filtered() int {
	if m.Active == "" {
		return m.Total
	}
	return m.counts[m.Active]
}

// View renders the filter bar.
func (m FilterBarModel) View() string {
	render := func(label string, active bool) string {
		if active {
			return theme.TextInfo.Render(label)
		}
		return theme.TextMuted.Render(label)
	}

	parts := []string{render("[a] All", m.Active == "")}
	for _, opt := range m.Options {
		label := fmt.Sprintf("[%s] %s", opt.Shortcut, opt.Label)
		if n := m.counts[opt.ID]; n > 0 {
			label += fmt.Sprintf(" (%d)", n)
		}
		parts = append(parts, render(label, m.Active == opt.ID))
	}

	bar := "  Filter: " + strings.Join(parts, "  ")
	if m.Total > 0 {
		bar += theme.Dim.Render(fmt.Sprintf("  Showing %d/%d", m.Filtered(), m.Total))
	}
	return bar
}
