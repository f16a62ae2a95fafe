// Package transport owns the single WebSocket connection of an ISAAC client:
// dialing with subprotocol negotiation, the receive loop, sends and the
// connection state machine.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"isaac-client/internal/domain"
)

// Default connection constants.
const (
	DefaultDialTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultCloseTimeout    = 5 * time.Second
	DefaultMaxMessageBytes = 64 * 1024 * 1024 // a 4K RGB frame as base64 fits comfortably
)

// Config configures a Manager.
type Config struct {
	// Subprotocol is advertised during the handshake. Defaults to domain.Subprotocol.
	Subprotocol string

	DialTimeout     time.Duration
	WriteTimeout    time.Duration
	CloseTimeout    time.Duration
	MaxMessageBytes int64

	// HTTPClient is used for the opening handshake. Optional.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.Subprotocol == "" {
		c.Subprotocol = domain.Subprotocol
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
}

// Handlers are the transport notifications. They run on the manager's
// receive goroutine; any of them may be nil.
type Handlers struct {
	OnOpen    func()
	OnMessage func(text string)
	OnClose   func(code int, reason string, remote bool)
	OnError   func(err error)
}

// Manager drives one persistent connection. State changes only in response to
// transport events; there is no automatic reconnection. Call Connect again
// after a close to start a new session.
type Manager struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	mu          sync.Mutex
	state       domain.ConnectionState
	changed     chan struct{} // closed and replaced on every state transition
	conn        *websocket.Conn
	cancel      context.CancelFunc
	done        chan struct{} // closed when the session goroutine has delivered its last notification
	gen         uint64 // incremented per Connect; stale goroutines compare against it
	localClose  bool
	endpoint    string
	subprotocol string
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg Config, handlers Handlers, logger *slog.Logger) *Manager {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		state:    domain.StateDisconnected,
		changed:  make(chan struct{}),
	}
}

// Connect starts opening a connection to endpoint (ws:// or wss://) and
// returns immediately. The outcome is reported through the handlers and
// observable with WaitUntilOpen.
func (m *Manager) Connect(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return domain.NewDomainError("Manager.Connect", domain.ErrInvalidInput, err.Error())
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return domain.NewDomainError("Manager.Connect", domain.ErrInvalidInput, "scheme must be ws or wss, got "+u.Scheme)
	}
	if u.Host == "" {
		return domain.NewDomainError("Manager.Connect", domain.ErrInvalidInput, "missing host")
	}

	m.mu.Lock()
	if m.state == domain.StateConnecting || m.state == domain.StateOpen {
		m.mu.Unlock()
		return domain.NewDomainError("Manager.Connect", domain.ErrAlreadyConnected, m.endpoint)
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done
	m.conn = nil
	m.localClose = false
	m.endpoint = endpoint
	m.subprotocol = ""
	m.setStateLocked(domain.StateConnecting)
	m.mu.Unlock()

	m.logger.Debug("connecting", "endpoint", endpoint, "subprotocol", m.cfg.Subprotocol)
	go func() {
		defer close(done)
		m.run(ctx, gen, endpoint)
	}()
	return nil
}

func (m *Manager) run(ctx context.Context, gen uint64, endpoint string) {
	dialCtx, cancelDial := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPClient:   m.cfg.HTTPClient,
		Subprotocols: []string{m.cfg.Subprotocol},
	})
	cancelDial()
	if err != nil {
		m.dialFailed(gen, endpoint, err)
		return
	}

	conn.SetReadLimit(m.cfg.MaxMessageBytes)

	m.mu.Lock()
	if gen != m.gen || m.state != domain.StateConnecting {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "")
		return
	}
	m.conn = conn
	m.subprotocol = conn.Subprotocol()
	m.setStateLocked(domain.StateOpen)
	m.mu.Unlock()

	if conn.Subprotocol() != m.cfg.Subprotocol {
		m.logger.Warn("server did not confirm subprotocol",
			"endpoint", endpoint, "requested", m.cfg.Subprotocol, "negotiated", conn.Subprotocol())
	}
	m.logger.Info("connection opened", "endpoint", endpoint)
	if m.handlers.OnOpen != nil {
		m.handlers.OnOpen()
	}

	m.readLoop(ctx, gen, conn)
}

func (m *Manager) dialFailed(gen uint64, endpoint string, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	local := m.localClose
	m.setStateLocked(domain.StateClosed)
	m.mu.Unlock()

	if local {
		m.logger.Info("connection attempt abandoned", "endpoint", endpoint)
		m.notifyClose(int(websocket.StatusNormalClosure), "", false)
		return
	}

	connErr := domain.NewDomainError("Manager.Connect", domain.ErrConnection, err.Error())
	m.logger.Error("connection failed", "endpoint", endpoint, "error", err)
	if m.handlers.OnError != nil {
		m.handlers.OnError(connErr)
	}
	m.notifyClose(int(websocket.StatusAbnormalClosure), err.Error(), false)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.readFailed(gen, err)
			return
		}
		if m.handlers.OnMessage != nil {
			m.handlers.OnMessage(string(data))
		}
	}
}

func (m *Manager) readFailed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	local := m.localClose
	m.conn = nil
	m.setStateLocked(domain.StateClosed)
	m.mu.Unlock()

	code, reason := int(websocket.StatusAbnormalClosure), ""
	var ce websocket.CloseError
	isClose := errors.As(err, &ce)
	if isClose {
		code, reason = int(ce.Code), ce.Reason
	} else if local {
		code = int(websocket.StatusNormalClosure)
	}

	if !isClose && !local {
		m.logger.Error("connection error", "error", err)
		if m.handlers.OnError != nil {
			m.handlers.OnError(domain.NewDomainError("Manager.Read", domain.ErrConnection, err.Error()))
		}
	}

	by := "remote peer"
	if local {
		by = "us"
	}
	m.logger.Info("connection closed", "by", by, "code", code, "reason", reason, "remote", !local)
	m.notifyClose(code, reason, !local)
}

func (m *Manager) notifyClose(code int, reason string, remote bool) {
	if m.handlers.OnClose != nil {
		m.handlers.OnClose(code, reason, remote)
	}
}

// Send transmits a pre-serialized message. When the connection is not open
// the call is a no-op that logs a warning; it reports whether the message was
// handed to the transport. Safe for concurrent use.
func (m *Manager) Send(text string) bool {
	m.mu.Lock()
	if m.state != domain.StateOpen || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		m.logger.Warn("send while connection not open, message dropped", "state", state.String())
		return false
	}
	conn := m.conn
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		m.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

// Close performs a local close of the current session. It is a no-op when no
// session is active. Close returns once the close notification has been
// delivered, bounded by the configured close timeout. Calling Close from a
// handler returns only after that timeout.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state != domain.StateOpen && m.state != domain.StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.localClose = true
	conn := m.conn
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	var closeErr error
	if conn != nil {
		closeErr = conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}

	timer := time.NewTimer(m.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return domain.NewSubSystemError("transport", "Manager.Close", domain.ErrTimeout, "close notification not delivered")
	}
	if closeErr != nil {
		m.logger.Debug("close handshake incomplete", "error", closeErr)
	}
	return nil
}

// WaitUntilOpen blocks until the connection is open, the session closes, or
// timeout elapses. It never polls: it wakes on state transitions only.
func (m *Manager) WaitUntilOpen(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.WaitOpenContext(ctx)
}

// WaitOpenContext is WaitUntilOpen bounded by ctx instead of a timeout.
func (m *Manager) WaitOpenContext(ctx context.Context) error {
	var closed bool
	err := m.waitFor(ctx, func(s domain.ConnectionState) bool {
		closed = s == domain.StateClosed
		return s == domain.StateOpen || closed
	})
	if err != nil {
		return err
	}
	if closed {
		return domain.NewDomainError("Manager.WaitUntilOpen", domain.ErrConnectionClosed, m.Endpoint())
	}
	return nil
}

// WaitClosedContext blocks until the current session is closed or ctx ends.
func (m *Manager) WaitClosedContext(ctx context.Context) error {
	return m.waitFor(ctx, func(s domain.ConnectionState) bool { return s == domain.StateClosed })
}

func (m *Manager) waitFor(ctx context.Context, done func(domain.ConnectionState) bool) error {
	for {
		m.mu.Lock()
		state, changed := m.state, m.changed
		m.mu.Unlock()

		if done(state) {
			return nil
		}
		select {
		case <-ctx.Done():
			return domain.NewSubSystemError("transport", "Manager.Wait", domain.ErrTimeout, state.String())
		case <-changed:
		}
	}
}

func (m *Manager) setStateLocked(s domain.ConnectionState) {
	if m.state == s {
		return
	}
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoint returns the endpoint of the most recent Connect call.
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Subprotocol returns the subprotocol the server confirmed, or "" if none.
func (m *Manager) Subprotocol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subprotocol
}
