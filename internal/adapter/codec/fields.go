package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"isaac-client/internal/domain"
)

// maxExactInt is the largest integer a float64 represents exactly.
const maxExactInt = 1 << 53

// object reads typed fields out of a decoded JSON object. Every accessor
// returns nil when the key is absent, null or of the wrong kind.
type object map[string]json.RawMessage

func (o object) raw(key string) (json.RawMessage, bool) {
	raw, ok := o[key]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (o object) text(key string) *string {
	raw, ok := o.raw(key)
	if !ok {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return &s
}

func (o object) integer(key string) *int {
	raw, ok := o.raw(key)
	if !ok {
		return nil
	}
	n, ok := asInt(raw)
	if !ok {
		return nil
	}
	return &n
}

func (o object) number(key string) *float32 {
	raw, ok := o.raw(key)
	if !ok {
		return nil
	}
	f, ok := asFloat(raw)
	if !ok {
		return nil
	}
	v := float32(f)
	return &v
}

func (o object) boolean(key string) *bool {
	raw, ok := o.raw(key)
	if !ok {
		return nil
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return &b
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	switch s {
	case "true":
		b = true
	case "false":
		b = false
	default:
		return nil
	}
	return &b
}

// floats decodes a numeric array. One bad element leaves the whole field
// unset; an empty array stays non-nil.
func (o object) floats(key string) []float32 {
	raw, ok := o.raw(key)
	if !ok {
		return nil
	}
	var elems []json.RawMessage
	if json.Unmarshal(raw, &elems) != nil {
		return nil
	}
	out := make([]float32, 0, len(elems))
	for _, e := range elems {
		f, ok := asFloat(e)
		if !ok {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

// streams decodes the stream list. Elements that are not objects are
// skipped; an empty list stays non-nil so the response still counts as
// session info.
func (o object) streams(key string) []domain.StreamDescriptor {
	raw, ok := o.raw(key)
	if !ok {
		return nil
	}
	var elems []json.RawMessage
	if json.Unmarshal(raw, &elems) != nil {
		return nil
	}
	out := make([]domain.StreamDescriptor, 0, len(elems))
	for _, e := range elems {
		var fields map[string]json.RawMessage
		if json.Unmarshal(e, &fields) != nil || fields == nil {
			continue
		}
		s := object(fields)
		var d domain.StreamDescriptor
		if name := s.text("name"); name != nil {
			d.Name = *name
		}
		if id := s.integer("id"); id != nil {
			d.ID = *id
		}
		out = append(out, d)
	}
	return out
}

// asFloat accepts a JSON number or a string holding a finite number.
func asFloat(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asInt(raw json.RawMessage) (int, bool) {
	f, ok := asFloat(raw)
	if !ok || f != math.Trunc(f) || math.Abs(f) > maxExactInt {
		return 0, false
	}
	return int(f), true
}
