package gateway

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isaac-client/internal/domain"
)

func TestPreviewEmpty(t *testing.T) {
	p := NewPreview()
	data, _, ok, err := p.PNG()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestPreviewEncodesRGB(t *testing.T) {
	p := NewPreview()
	frame := domain.Frame{
		Width:     2,
		Height:    1,
		Pixels:    []byte{255, 0, 0, 0, 0, 255},
		Timestamp: 99,
	}
	require.NoError(t, p.ApplyFrame(context.Background(), frame))

	data, ts, ok, err := p.PNG()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(99), ts)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0, 0xffff}, []uint32{r, g, b, a})
	r, g, b, _ = img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0, 0, 0xffff}, []uint32{r, g, b})
}

func TestPreviewCachesUntilNextFrame(t *testing.T) {
	p := NewPreview()
	require.NoError(t, p.ApplyFrame(context.Background(), domain.Frame{Width: 1, Height: 1, Pixels: []byte{1, 2, 3}, Timestamp: 1}))
	first, _, _, _ := p.PNG()
	again, _, _, _ := p.PNG()
	assert.Same(t, &first[0], &again[0])

	require.NoError(t, p.ApplyFrame(context.Background(), domain.Frame{Width: 1, Height: 1, Pixels: []byte{9, 9, 9}, Timestamp: 2}))
	next, ts, _, _ := p.PNG()
	assert.Equal(t, int64(2), ts)
	assert.NotEqual(t, first, next)
}

func TestPreviewRejectsShortBuffer(t *testing.T) {
	p := NewPreview()
	err := p.ApplyFrame(context.Background(), domain.Frame{Width: 2, Height: 2, Pixels: []byte{1, 2, 3}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, ok, _ := p.PNG()
	assert.False(t, ok)
}

func TestPreviewRoute(t *testing.T) {
	p := NewPreview()
	srv := startTestServer(t, &testBus{}, nil, func(s *Server) { s.Mount(Deps{Preview: p}) })
	url := "http://" + srv.BoundAddr() + "/api/v1/frame.png"

	resp, _ := httpGet(t, url, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, p.ApplyFrame(context.Background(), domain.Frame{Width: 1, Height: 1, Pixels: []byte{10, 20, 30}, Timestamp: 5}))

	resp, body := httpGet(t, url, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "5", resp.Header.Get("X-Frame-Timestamp"))
	_, err := png.Decode(bytes.NewReader(body))
	assert.NoError(t, err)
}
