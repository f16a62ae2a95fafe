// Package stream is the ISAAC protocol client: it wires the connection
// manager, the message codec, the payload decoder and the frame dispatcher
// into one session-oriented API for a rendering host.
package stream

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"isaac-client/internal/adapter/codec"
	"isaac-client/internal/adapter/payload"
	"isaac-client/internal/adapter/transport"
	"isaac-client/internal/domain"
	"isaac-client/internal/infra/tracer"
	"isaac-client/internal/usecase/dispatch"
)

// DefaultOpenTimeout bounds Open when Options.OpenTimeout is zero.
const DefaultOpenTimeout = 10 * time.Second

// Metrics receives counters from the client. Implementations must be cheap;
// they run on the receive goroutine.
type Metrics interface {
	StateChanged(state domain.ConnectionState)
	MessageReceived(bytes int)
	FrameHandled(outcome dispatch.Outcome, err error)
	MessageSent(kind string, ok bool)
}

type nopMetrics struct{}

func (nopMetrics) StateChanged(domain.ConnectionState) {}
func (nopMetrics) MessageReceived(int) {}
func (nopMetrics) FrameHandled(dispatch.Outcome, error) {}
func (nopMetrics) MessageSent(string, bool) {}

// Options configures a Client.
type Options struct {
	// Endpoint is the ws:// or wss:// URL of the ISAAC server.
	Endpoint string
	// ObserverID is sent with every observe and feedback message.
	ObserverID  int
	OpenTimeout time.Duration
	Transport   transport.Config

	// Decoder overrides the payload decoder. Optional.
	Decoder dispatch.PixelDecoder
	// Bus receives lifecycle events. Optional.
	Bus domain.EventBus
	// Metrics receives counters. Optional.
	Metrics Metrics
}

// Client is a single ISAAC viewer session at a time. Call Connect (or Open)
// to start a session, Observe to subscribe to a stream and Close to end it.
// A closed client can be connected again; it never reconnects on its own.
type Client struct {
	opts       Options
	logger     *slog.Logger
	codec      *codec.Codec
	dispatcher *dispatch.Dispatcher
	manager    *transport.Manager
	bus        domain.EventBus
	metrics    Metrics

	ctx   context.Context // handed to payload handlers
	start time.Time       // monotonic origin for frame timestamps

	mu          sync.RWMutex
	sessionID   string
	sessionInfo *domain.ServerResponse
	infoReady   chan struct{} // closed when the first session info of a session arrives
}

// New creates a disconnected client.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = payload.NewDecoder()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	c := &Client{
		opts:       opts,
		logger:     logger,
		codec:      codec.New(),
		dispatcher: dispatch.New(decoder, logger),
		bus:        opts.Bus,
		metrics:    metrics,
		ctx:        context.Background(),
		start:      time.Now(),
		infoReady:  make(chan struct{}),
	}
	c.manager = transport.NewManager(opts.Transport, transport.Handlers{
		OnOpen:    c.onOpen,
		OnMessage: c.onMessage,
		OnClose:   c.onClose,
		OnError:   c.onError,
	}, logger)
	return c
}

// Connect starts a new session and returns without waiting for the
// connection to open.
func (c *Client) Connect(ctx context.Context) error {
	_, span := tracer.StartSpan(ctx, tracer.SpanConnect, tracer.KeyEndpoint.String(c.opts.Endpoint))

	// An active session keeps its id, info and framebuffer dimensions.
	if st := c.manager.State(); st == domain.StateConnecting || st == domain.StateOpen {
		err := domain.NewDomainError("Client.Connect", domain.ErrAlreadyConnected, st.String())
		tracer.End(span, err)
		return err
	}

	c.mu.Lock()
	prevID, prevInfo, prevReady := c.sessionID, c.sessionInfo, c.infoReady
	c.sessionID = newSessionID()
	c.sessionInfo = nil
	c.infoReady = make(chan struct{})
	sessionID := c.sessionID
	c.mu.Unlock()

	// Framebuffer dimensions belong to the receive goroutine; onOpen resets
	// them for the new session.
	if err := c.manager.Connect(c.opts.Endpoint); err != nil {
		c.mu.Lock()
		c.sessionID, c.sessionInfo, c.infoReady = prevID, prevInfo, prevReady
		c.mu.Unlock()
		tracer.End(span, err)
		return domain.WrapOp("Client.Connect", err)
	}

	span.SetAttributes(tracer.KeySession.String(sessionID))
	c.metrics.StateChanged(domain.StateConnecting)
	c.publish(domain.NewEvent(domain.EventConnectionOpening, sessionID, map[string]string{"endpoint": c.opts.Endpoint}))
	tracer.End(span, nil)
	return nil
}

// WaitUntilOpen blocks until the connection is open, fails or timeout elapses.
func (c *Client) WaitUntilOpen(timeout time.Duration) error {
	return c.manager.WaitUntilOpen(timeout)
}

// Open connects and waits for the connection to open, bounded by ctx and the
// configured open timeout.
func (c *Client) Open(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.OpenTimeout)
	defer cancel()
	return c.manager.WaitOpenContext(ctx)
}

// Observe subscribes the session to stream. When the connection is not open
// nothing is sent and ErrNotConnected is returned.
func (c *Client) Observe(ctx context.Context, stream int, dropable bool) error {
	_, span := tracer.StartSpan(ctx, tracer.SpanObserve, tracer.ObserveAttrs(stream, dropable)...)

	text, err := c.codec.EncodeObserve(stream, dropable, c.opts.ObserverID)
	if err != nil {
		tracer.End(span, err)
		return domain.WrapOp("Client.Observe", err)
	}
	if !c.send(domain.MessageTypeObserve, text) {
		err := domain.NewDomainError("Client.Observe", domain.ErrNotConnected, c.manager.State().String())
		tracer.End(span, err)
		return err
	}
	c.logger.Info("observing stream", "stream", stream, "dropable", dropable, "session", c.SessionID())
	c.publish(domain.NewEvent(domain.EventObserveSent, c.SessionID(), map[string]any{"stream": stream, "dropable": dropable}))
	tracer.End(span, nil)
	return nil
}

// ObserveByName waits for session info, resolves name to a stream id and
// observes it.
func (c *Client) ObserveByName(ctx context.Context, name string, dropable bool) (domain.StreamDescriptor, error) {
	info, err := c.WaitSessionInfo(ctx)
	if err != nil {
		return domain.StreamDescriptor{}, domain.WrapOp("Client.ObserveByName", err)
	}
	desc, ok := info.StreamByName(name)
	if !ok {
		return domain.StreamDescriptor{}, domain.NewDomainError("Client.ObserveByName", domain.ErrStreamNotFound, name)
	}
	return desc, c.Observe(ctx, desc.ID, dropable)
}

// SendFeedback sends fb with the client's observer id. Unset fields are not
// sent. It returns ErrNotConnected when the connection is not open.
func (c *Client) SendFeedback(fb domain.FeedbackMessage) error {
	fb.ObserverID = c.opts.ObserverID
	text, err := c.codec.EncodeFeedback(fb)
	if err != nil {
		return domain.WrapOp("Client.SendFeedback", err)
	}
	if !c.send(domain.MessageTypeFeedback, text) {
		return domain.NewDomainError("Client.SendFeedback", domain.ErrNotConnected, c.manager.State().String())
	}
	c.publish(domain.NewEvent(domain.EventFeedbackSent, c.SessionID(), nil))
	return nil
}

func (c *Client) send(kind, text string) bool {
	ok := c.manager.Send(text)
	c.metrics.MessageSent(kind, ok)
	return ok
}

// RegisterPayloadHandler adds handler to the ordered handler registry and
// returns a function that removes it.
func (c *Client) RegisterPayloadHandler(handler domain.PayloadHandler) func() {
	return c.dispatcher.Register(handler)
}

// Dimensions returns the current framebuffer size; zero means unknown.
func (c *Client) Dimensions() (width, height int) {
	return c.dispatcher.Dimensions()
}

// State returns the connection state.
func (c *Client) State() domain.ConnectionState {
	return c.manager.State()
}

// SessionID returns the id of the current or most recent session.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// SessionInfo returns the most recent session-info response of the current
// session.
func (c *Client) SessionInfo() (*domain.ServerResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionInfo, c.sessionInfo != nil
}

// WaitSessionInfo blocks until session info has arrived, the session closes
// or ctx ends.
func (c *Client) WaitSessionInfo(ctx context.Context) (*domain.ServerResponse, error) {
	c.mu.RLock()
	ready, info := c.infoReady, c.sessionInfo
	c.mu.RUnlock()
	if info != nil {
		return info, nil
	}

	closed := make(chan error, 1)
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { closed <- c.manager.WaitClosedContext(waitCtx) }()

	select {
	case <-ready:
		info, _ := c.SessionInfo()
		return info, nil
	case err := <-closed:
		// Info and close can arrive back to back; the info wins.
		if info, ok := c.SessionInfo(); ok {
			return info, nil
		}
		if err == nil {
			return nil, domain.NewDomainError("Client.WaitSessionInfo", domain.ErrConnectionClosed, c.opts.Endpoint)
		}
		return nil, domain.NewSubSystemError("stream", "Client.WaitSessionInfo", domain.ErrTimeout, "no session info")
	case <-ctx.Done():
		return nil, domain.NewSubSystemError("stream", "Client.WaitSessionInfo", domain.ErrTimeout, "no session info")
	}
}

// Close ends the current session. It is a no-op when none is active.
func (c *Client) Close() error {
	return c.manager.Close()
}

// Done blocks until the current session has closed or ctx ends.
func (c *Client) Done(ctx context.Context) error {
	return c.manager.WaitClosedContext(ctx)
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string { return c.opts.Endpoint }

// ObserverID returns the observer id sent with every message.
func (c *Client) ObserverID() int { return c.opts.ObserverID }

// --- transport callbacks; all run on the manager's receive goroutine ---

func (c *Client) onOpen() {
	c.dispatcher.StartSession(c.SessionID())
	c.metrics.StateChanged(domain.StateOpen)
	c.publish(domain.NewEvent(domain.EventConnectionOpened, c.SessionID(),
		map[string]string{"endpoint": c.opts.Endpoint, "subprotocol": c.manager.Subprotocol()}))
}

func (c *Client) onMessage(text string) {
	ts := c.now()
	c.metrics.MessageReceived(len(text))

	resp, err := c.codec.Decode(text)
	if err != nil {
		c.logger.Warn("message dropped: decode failed", "bytes", len(text), "error", err, "session", c.SessionID())
		c.metrics.FrameHandled(dispatch.OutcomeDropped, err)
		c.publish(domain.NewEvent(domain.EventFrameDropped, c.SessionID(), domain.FramePayload{Timestamp: ts, Error: err.Error()}))
		return
	}

	if resp.IsSessionInfo() {
		c.storeSessionInfo(resp)
	}

	outcome, err := c.dispatcher.Handle(c.ctx, resp, ts)
	c.metrics.FrameHandled(outcome, err)
	switch outcome {
	case dispatch.OutcomeDelivered:
		w, h := c.dispatcher.Dimensions()
		c.publish(domain.NewEvent(domain.EventFrameDelivered, c.SessionID(),
			domain.FramePayload{Width: w, Height: h, Bytes: w * h * payload.BytesPerPixel, Timestamp: ts}))
	case dispatch.OutcomeDropped:
		c.publish(domain.NewEvent(domain.EventFrameDropped, c.SessionID(), domain.FramePayload{Timestamp: ts, Error: err.Error()}))
	}
}

func (c *Client) storeSessionInfo(resp *domain.ServerResponse) {
	c.mu.Lock()
	first := c.sessionInfo == nil
	c.sessionInfo = resp
	ready := c.infoReady
	c.mu.Unlock()
	if first {
		close(ready)
	}

	name := ""
	if resp.Name != nil {
		name = *resp.Name
	}
	c.logger.Info("session info received", "name", name, "streams", len(resp.Streams), "session", c.SessionID())
	c.publish(domain.NewEvent(domain.EventSessionInfo, c.SessionID(), resp))
}

func (c *Client) onClose(code int, reason string, remote bool) {
	c.metrics.StateChanged(domain.StateClosed)
	c.publish(domain.NewEvent(domain.EventConnectionClosed, c.SessionID(),
		domain.ClosePayload{Code: code, Reason: reason, Remote: remote}))
}

func (c *Client) onError(err error) {
	c.publish(domain.NewEvent(domain.EventConnectionError, c.SessionID(), map[string]string{
		"error": err.Error(),
		"code":  string(domain.ErrorCodeOf(err)),
	}))
}

func (c *Client) publish(ev domain.Event) {
	if c.bus != nil {
		c.bus.Publish(c.ctx, ev)
	}
}

// now returns monotonic nanoseconds since the client was created.
func (c *Client) now() int64 {
	return time.Since(c.start).Nanoseconds()
}

func newSessionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
