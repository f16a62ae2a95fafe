package domain

// Wire constants for the ISAAC JSON protocol.
const (
	// Subprotocol is advertised during the WebSocket opening handshake.
	Subprotocol = "isaac-json-protocol"

	// DefaultPort is the port ISAAC servers listen on for viewer connections.
	DefaultPort = 2459

	// DefaultHost is used when no host is configured.
	DefaultHost = "127.0.0.1"

	// ObserverIDKey is the canonical wire key for the observer identifier.
	// Some server builds spell it "observer id"; this client only speaks "observe id".
	ObserverIDKey = "observe id"

	MessageTypeObserve  = "observe"
	MessageTypeFeedback = "feedback"
)

// ConnectionState is the lifecycle state of the single connection a client owns.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamDescriptor names one video stream offered by the server.
type StreamDescriptor struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// ObserveRequest subscribes the client to a stream. Every field is always sent.
type ObserveRequest struct {
	Type       string `json:"type"`
	Stream     int    `json:"stream"`
	Dropable   bool   `json:"dropable"`
	ObserverID int    `json:"observe id"`
}

// NewObserveRequest returns a fully populated observe request.
func NewObserveRequest(stream int, dropable bool, observerID int) ObserveRequest {
	return ObserveRequest{
		Type:       MessageTypeObserve,
		Stream:     stream,
		Dropable:   dropable,
		ObserverID: observerID,
	}
}

// FeedbackMessage carries camera state back to the server.
// Nil fields are omitted from the wire form.
type FeedbackMessage struct {
	Type             string       `json:"type"`
	ObserverID       int          `json:"observe id"`
	Projection       *[16]float32 `json:"projection,omitempty"`
	ModelView        *[16]float32 `json:"modelview,omitempty"`
	RotationAbsolute *[9]float32  `json:"rotation absolute,omitempty"`
	PositionAbsolute *[3]float32  `json:"position absolute,omitempty"`
}

// NewFeedback returns an empty feedback message for observerID.
func NewFeedback(observerID int) FeedbackMessage {
	return FeedbackMessage{Type: MessageTypeFeedback, ObserverID: observerID}
}

// IsEmpty reports whether no camera field has been set.
func (f FeedbackMessage) IsEmpty() bool {
	return f.Projection == nil && f.ModelView == nil && f.RotationAbsolute == nil && f.PositionAbsolute == nil
}

// ServerResponse is the superset of every message the server sends: session
// info and frames. A nil field was absent on the wire.
type ServerResponse struct {
	Type          *string            `json:"type,omitempty"`
	Name          *string            `json:"name,omitempty"`
	ID            *int               `json:"id,omitempty"`
	Nodes         *int               `json:"nodes,omitempty"`
	Streams       []StreamDescriptor `json:"streams,omitempty"`
	Width         *int               `json:"width,omitempty"`
	Height        *int               `json:"height,omitempty"`
	Depth         *int               `json:"depth,omitempty"`
	Dimension     *int               `json:"dimension,omitempty"`
	Projection    []float32          `json:"projection,omitempty"`
	Position      []float32          `json:"position,omitempty"`
	Distance      *float32           `json:"distance,omitempty"`
	Rotation      []float32          `json:"rotation,omitempty"`
	Interpolation *bool              `json:"interpolation,omitempty"`
	Step          *float32           `json:"step,omitempty"`

	FramebufferWidth  *int    `json:"framebuffer width,omitempty"`
	FramebufferHeight *int    `json:"framebuffer height,omitempty"`
	Payload           *string `json:"payload,omitempty"`
}

// MessageType returns the type field, or "" when it was absent.
func (r *ServerResponse) MessageType() string {
	if r == nil || r.Type == nil {
		return ""
	}
	return *r.Type
}

// FramebufferSize returns both framebuffer dimensions when the response
// carries them together.
func (r *ServerResponse) FramebufferSize() (width, height int, ok bool) {
	if r == nil || r.FramebufferWidth == nil || r.FramebufferHeight == nil {
		return 0, 0, false
	}
	return *r.FramebufferWidth, *r.FramebufferHeight, true
}

// HasPayload reports whether a non-empty payload is present.
func (r *ServerResponse) HasPayload() bool {
	return r != nil && r.Payload != nil && *r.Payload != ""
}

// IsSessionInfo reports whether the response announces streams.
func (r *ServerResponse) IsSessionInfo() bool {
	return r != nil && r.Streams != nil
}

// StreamByName returns the descriptor with the given name.
func (r *ServerResponse) StreamByName(name string) (StreamDescriptor, bool) {
	if r == nil {
		return StreamDescriptor{}, false
	}
	for _, s := range r.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamDescriptor{}, false
}

// Rotation3 extracts the upper-left 3x3 block of a row-major 4x4 matrix.
func Rotation3(m [16]float32) [9]float32 {
	return [9]float32{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	}
}
