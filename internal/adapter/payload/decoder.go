// Package payload turns the base64 image carried in a frame message into a
// dense RGB pixel buffer.
package payload

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"isaac-client/internal/domain"
)

// dataURIScheme marks a payload that carries a media-type header before the
// base64 body, e.g. "data:image/jpeg;base64,".
const dataURIScheme = "data:"

// BytesPerPixel is the channel count of every decoded buffer.
const BytesPerPixel = 3

// Decoder decodes frame payloads. It holds no state and is safe for concurrent use.
type Decoder struct{}

// NewDecoder returns a Decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// StripDataURI removes a leading data-URI header up to and including the
// first comma. Payloads without the header are returned unchanged, so the
// operation is idempotent on base64 bodies.
func StripDataURI(payload string) string {
	if !strings.HasPrefix(payload, dataURIScheme) {
		return payload
	}
	if i := strings.IndexByte(payload, ','); i >= 0 {
		return payload[i+1:]
	}
	return payload
}

// MediaType returns the media type announced by a data-URI header, or "" when
// the payload has none.
func MediaType(payload string) string {
	if !strings.HasPrefix(payload, dataURIScheme) {
		return ""
	}
	header := payload[len(dataURIScheme):]
	if i := strings.IndexByte(header, ','); i >= 0 {
		header = header[:i]
	}
	if i := strings.IndexByte(header, ';'); i >= 0 {
		header = header[:i]
	}
	return header
}

// SwapChannels exchanges byte i and byte i+2 of every 3-byte pixel in place,
// converting between RGB and BGR. Applying it twice restores the input.
// A trailing partial pixel is left untouched.
func SwapChannels(buf []byte) {
	for i := 0; i+2 < len(buf); i += BytesPerPixel {
		buf[i], buf[i+2] = buf[i+2], buf[i]
	}
}

// Swapped returns a channel-swapped copy of buf and leaves buf unchanged.
func Swapped(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	SwapChannels(out)
	return out
}

// Decode strips an optional data-URI header, base64-decodes the body, decodes
// the embedded image and returns a width*height*3 RGB buffer. The image must
// match the framebuffer dimensions exactly.
//
// The returned buffer is newly allocated and owned by the caller; the decoder
// keeps no reference to it.
func (d *Decoder) Decode(payload string, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, domain.NewDomainError("Decoder.Decode", domain.ErrInvalidInput, "framebuffer dimensions unknown")
	}

	raw, err := decodeBase64(StripDataURI(payload))
	if err != nil {
		return nil, domain.NewDomainError("Decoder.Decode", domain.ErrMalformedBase64, err.Error())
	}

	// The header is checked first so a small payload declaring a huge image
	// never gets a pixel buffer allocated.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.NewDomainError("Decoder.Decode", domain.ErrUndecodableImage, err.Error())
	}
	if cfg.Width != width || cfg.Height != height {
		return nil, domain.NewDomainError("Decoder.Decode", domain.ErrDimensionMismatch,
			sizeDetail(cfg.Width, cfg.Height, width, height))
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.NewDomainError("Decoder.Decode", domain.ErrUndecodableImage, err.Error())
	}

	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, domain.NewDomainError("Decoder.Decode", domain.ErrDimensionMismatch,
			sizeDetail(b.Dx(), b.Dy(), width, height))
	}

	buf := rasterBGR(img)
	SwapChannels(buf)
	return buf, nil
}

// decodeBase64 accepts padded and unpadded standard base64.
func decodeBase64(body string) ([]byte, error) {
	if strings.HasSuffix(body, "=") || len(body)%4 == 0 {
		return base64.StdEncoding.DecodeString(body)
	}
	return base64.RawStdEncoding.DecodeString(body)
}

// rasterBGR packs img into the 3-byte BGR interleaved layout the server's
// encoder produces, top row first.
func rasterBGR(img image.Image) []byte {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*BytesPerPixel)
	o := 0
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			out[o] = row[x+2]
			out[o+1] = row[x+1]
			out[o+2] = row[x]
			o += BytesPerPixel
		}
	}
	return out
}

func sizeDetail(gotW, gotH, wantW, wantH int) string {
	return fmt.Sprintf("image %dx%d, framebuffer %dx%d", gotW, gotH, wantW, wantH)
}
