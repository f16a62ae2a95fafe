package gateway

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"sync"

	"isaac-client/internal/domain"
)

// Preview is a domain.FrameSink that keeps the latest applied frame and serves
// it as PNG. Encoding happens on the first request after a new frame.
type Preview struct {
	mu      sync.Mutex
	frame   domain.Frame
	has     bool
	encoded []byte // PNG of frame; nil until requested
}

// NewPreview creates an empty preview.
func NewPreview() *Preview {
	return &Preview{}
}

// ApplyFrame implements domain.FrameSink. The pixel buffer is retained
// without copying and never mutated.
func (p *Preview) ApplyFrame(_ context.Context, frame domain.Frame) error {
	if len(frame.Pixels) != frame.Width*frame.Height*3 {
		return fmt.Errorf("preview: %d bytes for %dx%d frame: %w",
			len(frame.Pixels), frame.Width, frame.Height, domain.ErrInvalidInput)
	}
	p.mu.Lock()
	p.frame = frame
	p.has = true
	p.encoded = nil
	p.mu.Unlock()
	return nil
}

// PNG returns the latest frame encoded as PNG and its timestamp. ok is false
// until the first frame has been applied.
func (p *Preview) PNG() (data []byte, timestamp int64, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has {
		return nil, 0, false, nil
	}
	if p.encoded == nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, toImage(p.frame)); err != nil {
			return nil, 0, true, fmt.Errorf("preview: encode png: %w", err)
		}
		p.encoded = buf.Bytes()
	}
	return p.encoded, p.frame.Timestamp, true, nil
}

// ServeHTTP serves GET /api/v1/frame.png.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, ts, ok, err := p.PNG()
	switch {
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	case !ok:
		http.Error(w, "no frame received yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Timestamp", strconv.FormatInt(ts, 10))
	_, _ = w.Write(data)
}

func toImage(f domain.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pixels); i, j = i+3, j+4 {
		img.Pix[j] = f.Pixels[i]
		img.Pix[j+1] = f.Pixels[i+1]
		img.Pix[j+2] = f.Pixels[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
