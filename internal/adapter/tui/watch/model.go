package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"isaac-client/internal/adapter/tui/components"
	"isaac-client/internal/adapter/tui/theme"
	"isaac-client/internal/domain"
	"isaac-client/internal/usecase/steering"
)

var _ tea.Model = (*Model)(nil)

// ClientView is the part of the stream client the view polls.
type ClientView interface {
	Endpoint() string
	State() domain.ConnectionState
	SessionID() string
	Dimensions() (width, height int)
}

// StatsSource exposes steering counters.
type StatsSource interface {
	Stats() steering.Stats
}

// Deps are the view's collaborators. Client and Steering may be nil.
type Deps struct {
	Bus      domain.EventBus
	Client   ClientView
	Steering StatsSource
}

// Counters aggregates what the view learned from bus events.
type Counters struct {
	Delivered uint64
	Dropped   uint64
	Stale     uint64
	Feedback  uint64
	Errors    uint64
	Reconnect uint64
}

// Model is the root Bubble Tea model of the watch view.
type Model struct {
	deps Deps

	stream    components.EventStreamModel
	filterBar components.FilterBarModel

	state     domain.ConnectionState
	session   string
	width     int
	height    int
	frameW    int
	frameH    int
	lastFrame domain.FramePayload
	lastClose *domain.ClosePayload
	counters  Counters
	stats     steering.Stats

	programSend func(tea.Msg)
	unsubscribe func()
}

// New creates the watch model.
func New(deps Deps) *Model {
	return &Model{
		deps:   deps,
		stream: components.NewEventStream(),
		filterBar: components.NewFilterBar([]components.FilterOption{
			{ID: "connection.", Label: "Connection", Shortcut: "c"},
			{ID: "frame.", Label: "Frames", Shortcut: "f"},
			{ID: "feedback.", Label: "Feedback", Shortcut: "b"},
			{ID: "reconnect.", Label: "Reconnect", Shortcut: "r"},
		}),
	}
}

// SetProgramSender sets the function used to inject bus events into the
// program. Must be called before Run.
func (m *Model) SetProgramSender(send func(tea.Msg)) {
	m.programSend = send
}

// Init subscribes to the bus and starts the refresh ticker.
func (m *Model) Init() tea.Cmd {
	if m.deps.Bus != nil && m.programSend != nil {
		m.unsubscribe = m.deps.Bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			m.programSend(EventBusMsg{Event: event})
		})
	}
	m.refresh()
	return tickCmd()
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, m.quit()
		}
		if msg.Type == tea.KeyRunes {
			key := string(msg.Runes)
			if key == "q" {
				return m, m.quit()
			}
			if m.filterBar.HandleShortcut(key) {
				m.stream.SetFilter(m.filterBar.Active)
				m.filterBar.Sync(m.stream)
				return m, nil
			}
		}

	case EventBusMsg:
		m.handleEvent(msg.Event)
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tickCmd()
	}

	var cmd tea.Cmd
	m.stream, cmd = m.stream.Update(msg)
	return m, cmd
}

func (m *Model) quit() tea.Cmd {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	return tea.Quit
}

func (m *Model) handleEvent(ev domain.Event) {
	m.stream.AddEvent(ev)
	m.filterBar.Sync(m.stream)

	if ev.SessionID != "" {
		m.session = ev.SessionID
	}

	switch ev.Type {
	case domain.EventConnectionOpening:
		m.state = domain.StateConnecting
		m.lastClose = nil
	case domain.EventConnectionOpened:
		m.state = domain.StateOpen
	case domain.EventConnectionClosed:
		m.state = domain.StateClosed
		var p domain.ClosePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			m.lastClose = &p
		}
	case domain.EventConnectionError:
		m.counters.Errors++
	case domain.EventFrameDelivered:
		m.counters.Delivered++
		var p domain.FramePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			m.lastFrame = p
			m.frameW, m.frameH = p.Width, p.Height
		}
	case domain.EventFrameDropped:
		m.counters.Dropped++
	case domain.EventFrameStale:
		m.counters.Stale++
	case domain.EventFeedbackSent:
		m.counters.Feedback++
	case domain.EventReconnectScheduled:
		m.counters.Reconnect++
	}
}

// refresh polls the client and steering snapshots. Polled values win over
// what was inferred from events.
func (m *Model) refresh() {
	if c := m.deps.Client; c != nil {
		m.state = c.State()
		if id := c.SessionID(); id != "" {
			m.session = id
		}
		if w, h := c.Dimensions(); w > 0 && h > 0 {
			m.frameW, m.frameH = w, h
		}
	}
	if s := m.deps.Steering; s != nil {
		m.stats = s.Stats()
	}
}

// Counters returns the event counters.
func (m *Model) Counters() Counters {
	return m.counters
}

// State returns the last known connection state.
func (m *Model) State() domain.ConnectionState {
	return m.state
}

// headerHeight is the bordered header: two content lines plus the border.
const headerHeight = 4

func (m *Model) layout() {
	// header + filter bar + status bar
	h := m.height - headerHeight - 2
	m.stream.SetSize(m.width, theme.Clamp(h, 1, m.height))
}

// View renders the watch view.
func (m *Model) View() string {
	if m.width == 0 {
		return "  Initializing" + theme.SymbolEllipsis
	}

	sb := components.NewStatusBar()
	sb.Hints = []components.KeyHint{
		{Key: "c/f/b/r", Desc: "Filter"},
		{Key: "a", Desc: "All"},
		{Key: "j/k", Desc: "Scroll"},
		{Key: "q", Desc: "Quit"},
	}
	if m.deps.Client != nil {
		sb.Endpoint = m.deps.Client.Endpoint()
	}
	sb.Session = m.session
	sb.SetWidth(m.width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.filterBar.View(),
		m.stream.View(),
		sb.View(),
	)
}

func (m *Model) header() string {
	stat := func(label string, v any) string {
		return theme.StatLabel.Render(label+" ") + theme.StatValue.Render(fmt.Sprint(v))
	}

	dims := theme.TextMuted.Render("awaiting dimensions")
	if m.frameW > 0 && m.frameH > 0 {
		dims = stat("frame", fmt.Sprintf("%dx%d", m.frameW, m.frameH))
	}
	line1 := []string{theme.State(m.state), dims}
	if m.lastFrame.Timestamp != 0 {
		line1 = append(line1, stat("ts", m.lastFrame.Timestamp))
	}
	if m.lastClose != nil {
		line1 = append(line1, theme.TextWarning.Render(fmt.Sprintf("closed %d %s", m.lastClose.Code, m.lastClose.Reason)))
	}

	line2 := []string{
		stat("delivered", m.counters.Delivered),
		stat("dropped", m.counters.Dropped),
		stat("stale", m.counters.Stale),
		stat("feedback", m.counters.Feedback),
	}
	if m.deps.Steering != nil {
		line2 = append(line2, stat("applied", m.stats.Applied))
	}
	if m.counters.Errors > 0 {
		line2 = append(line2, theme.TextError.Render(fmt.Sprintf("%s %d errors", theme.SymbolError, m.counters.Errors)))
	}
	if m.counters.Reconnect > 0 {
		line2 = append(line2, stat("reconnects", m.counters.Reconnect))
	}

	sep := "  " + theme.Dim.Render("|") + "  "
	body := strings.Join(line1, sep) + "\n" + strings.Join(line2, sep)
	w := m.width - 2
	if w < 1 {
		w = 1
	}
	return theme.Header.Width(w).Render(body)
}
