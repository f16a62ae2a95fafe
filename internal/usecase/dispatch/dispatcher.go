// Package dispatch routes decoded frames to the payload handlers registered
// by the rendering host and tracks the current framebuffer dimensions.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"isaac-client/internal/domain"
	"isaac-client/internal/infra/tracer"
)

// PixelDecoder turns a payload string into a width*height*3 RGB buffer.
type PixelDecoder interface {
	Decode(payload string, width, height int) ([]byte, error)
}

// Outcome reports what Handle did with a response.
type Outcome int

const (
	// OutcomeNoPayload means the response carried no payload.
	OutcomeNoPayload Outcome = iota
	// OutcomeAwaitingDimensions means a payload arrived before both
	// framebuffer dimensions were known and was ignored.
	OutcomeAwaitingDimensions
	// OutcomeDropped means the payload failed to decode.
	OutcomeDropped
	// OutcomeDelivered means every handler was invoked with the frame.
	OutcomeDelivered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoPayload:
		return "no_payload"
	case OutcomeAwaitingDimensions:
		return "awaiting_dimensions"
	case OutcomeDropped:
		return "dropped"
	case OutcomeDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

type registration struct {
	id      uint64
	handler domain.PayloadHandler
}

// Dispatcher owns an ordered registry of payload handlers. Handlers are
// invoked synchronously, in registration order, on the goroutine that calls
// Handle; a panicking handler is recovered and logged and the remaining
// handlers still run.
//
// Staleness filtering is left to handlers: delivery order follows arrival
// order but timestamps are not guaranteed to be monotonic.
type Dispatcher struct {
	decoder PixelDecoder
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers []registration
	width    int
	height   int
	session  string

	nextID atomic.Uint64
}

// New creates a Dispatcher. A nil logger falls back to slog.Default().
func New(decoder PixelDecoder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{decoder: decoder, logger: logger}
}

// Register appends handler to the registry and returns a function that
// removes it again. Registration order is delivery order.
func (d *Dispatcher) Register(handler domain.PayloadHandler) func() {
	id := d.nextID.Add(1)

	d.mu.Lock()
	d.handlers = append(d.handlers, registration{id: id, handler: handler})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, r := range d.handlers {
			if r.id == id {
				d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
				return
			}
		}
	}
}

// Handlers returns the number of registered handlers.
func (d *Dispatcher) Handlers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dimensions returns the current framebuffer size. Zero means not yet known.
func (d *Dispatcher) Dimensions() (width, height int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width, d.height
}

// StartSession forgets the framebuffer dimensions and tags the frames that
// follow with session. Call it from the goroutine that calls Handle.
func (d *Dispatcher) StartSession(session string) {
	d.mu.Lock()
	d.width, d.height = 0, 0
	d.session = session
	d.mu.Unlock()
}

// Reset forgets the framebuffer dimensions and the session tag.
func (d *Dispatcher) Reset() {
	d.StartSession("")
}

// Handle processes one parsed response that arrived at timestamp. The error
// is non-nil only for OutcomeDropped and has already been logged.
func (d *Dispatcher) Handle(ctx context.Context, resp *domain.ServerResponse, timestamp int64) (Outcome, error) {
	if resp == nil {
		return OutcomeNoPayload, nil
	}

	d.mu.Lock()
	if w, h, ok := resp.FramebufferSize(); ok && w > 0 && h > 0 {
		if w != d.width || h != d.height {
			d.logger.Debug("framebuffer dimensions updated", "width", w, "height", h)
		}
		d.width, d.height = w, h
	}
	width, height, session := d.width, d.height, d.session
	d.mu.Unlock()

	if !resp.HasPayload() {
		return OutcomeNoPayload, nil
	}
	if width <= 0 || height <= 0 {
		d.logger.Debug("payload before framebuffer dimensions, ignored")
		return OutcomeAwaitingDimensions, nil
	}

	ctx, span := tracer.StartSpan(ctx, tracer.SpanDispatch, tracer.FrameAttrs(width, height)...)

	payload := *resp.Payload
	pixels, err := d.decoder.Decode(payload, width, height)
	if err != nil {
		d.logger.Warn("frame dropped: payload decode failed",
			"width", width, "height", height,
			"code", string(domain.ErrorCodeOf(err)), "error", err)
		tracer.End(span, err)
		return OutcomeDropped, err
	}

	frame := domain.Frame{
		Response:  resp,
		Payload:   payload,
		Pixels:    pixels,
		Width:     width,
		Height:    height,
		Timestamp: timestamp,
		SessionID: session,
	}

	d.mu.RLock()
	handlers := make([]registration, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	span.SetAttributes(tracer.KeyHandlers.Int(len(handlers)))
	for _, r := range handlers {
		d.invoke(ctx, r, frame)
	}
	tracer.End(span, nil)
	return OutcomeDelivered, nil
}

func (d *Dispatcher) invoke(ctx context.Context, r registration, frame domain.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("payload handler panicked",
				"handler", r.id,
				"timestamp", frame.Timestamp,
				"panic", rec,
			)
		}
	}()
	r.handler(ctx, frame)
}
