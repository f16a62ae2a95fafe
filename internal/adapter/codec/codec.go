// Package codec converts between typed ISAAC protocol messages and their JSON
// wire form.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"isaac-client/internal/domain"
)

// Codec serializes outbound requests and parses inbound responses.
// It holds no state and is safe for concurrent use.
type Codec struct{}

// New returns a Codec.
func New() *Codec { return &Codec{} }

// EncodeObserve returns the wire form of a fully populated observe request.
func (c *Codec) EncodeObserve(stream int, dropable bool, observerID int) (string, error) {
	data, err := json.Marshal(domain.NewObserveRequest(stream, dropable, observerID))
	if err != nil {
		return "", fmt.Errorf("marshal observe request: %w", err)
	}
	return string(data), nil
}

// EncodeFeedback returns the wire form of fb. Unset camera fields are omitted,
// and the type field is always "feedback" regardless of what the caller set.
func (c *Codec) EncodeFeedback(fb domain.FeedbackMessage) (string, error) {
	fb.Type = domain.MessageTypeFeedback
	data, err := json.Marshal(fb)
	if err != nil {
		return "", fmt.Errorf("marshal feedback: %w", err)
	}
	return string(data), nil
}

// Decode parses an inbound message. Only a message that is not a well-formed
// JSON object yields an error matching domain.ErrMalformedJSON.
//
// Keys match case-sensitively and unknown keys are ignored. A known key that
// is null or holds a value of the wrong kind is left unset, as if it were
// absent. Integer fields accept integral numbers in any notation (800, 800.0,
// 8e2) and numeric strings; a fractional value leaves the field unset.
func (c *Codec) Decode(text string) (*domain.ServerResponse, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, domain.NewDomainError("Codec.Decode", domain.ErrMalformedJSON, "message is not a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, domain.NewDomainError("Codec.Decode", domain.ErrMalformedJSON, err.Error())
	}

	f := object(fields)
	return &domain.ServerResponse{
		Type:          f.text("type"),
		Name:          f.text("name"),
		ID:            f.integer("id"),
		Nodes:         f.integer("nodes"),
		Streams:       f.streams("streams"),
		Width:         f.integer("width"),
		Height:        f.integer("height"),
		Depth:         f.integer("depth"),
		Dimension:     f.integer("dimension"),
		Projection:    f.floats("projection"),
		Position:      f.floats("position"),
		Distance:      f.number("distance"),
		Rotation:      f.floats("rotation"),
		Interpolation: f.boolean("interpolation"),
		Step:          f.number("step"),

		FramebufferWidth:  f.integer("framebuffer width"),
		FramebufferHeight: f.integer("framebuffer height"),
		Payload:           f.text("payload"),
	}, nil
}
