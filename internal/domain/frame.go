package domain

import "context"

// Frame is one decoded image delivered to payload handlers.
//
// Pixels is a dense width*height*3 buffer in RGB order. The buffer is freshly
// allocated per frame and shared read-only between all handlers of that frame;
// a handler that needs to mutate it must copy first.
type Frame struct {
	Response *ServerResponse
	Payload  string // raw payload string as received, prefix included
	Pixels   []byte
	Width    int
	Height   int

	// SessionID is the client session the frame arrived on.
	SessionID string

	// Timestamp is a monotonic arrival time in nanoseconds, captured once per
	// inbound message. Only differences and ordering are meaningful.
	Timestamp int64
}

// PayloadHandler receives decoded frames. Handlers run synchronously on the
// receive goroutine in registration order.
type PayloadHandler func(ctx context.Context, frame Frame)

// FrameSink consumes frames that passed the consumer's staleness filter.
type FrameSink interface {
	ApplyFrame(ctx context.Context, frame Frame) error
}

// CameraSource is the rendering host's camera. Matrices are row-major.
type CameraSource interface {
	Projection() [16]float32
	ModelView() [16]float32
	Rotation() [9]float32
	Position() [3]float32
}
