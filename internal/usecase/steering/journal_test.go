package steering

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isaac-client/internal/adapter/recorder"
	"isaac-client/internal/domain"
	"isaac-client/internal/usecase/dispatch"
	"isaac-client/internal/usecase/eventbus"
)

type blankDecoder struct{}

func (blankDecoder) Decode(_ string, w, h int) ([]byte, error) {
	return make([]byte, w*h*3), nil
}

func TestStaleFramesCountedOnJournalSession(t *testing.T) {
	journal, err := recorder.Open(filepath.Join(t.TempDir(), "journal.db"), slog.Default())
	require.NoError(t, err)
	defer journal.Close()

	bus := eventbus.New(slog.Default())
	detach := journal.Attach(bus)

	const sid = "01J0000000000000000000STALE"
	ctx := context.Background()
	bus.Publish(ctx, domain.NewEvent(domain.EventConnectionOpening, sid, nil))

	s := New(Config{}, nil, nil, bus, slog.Default())
	d := dispatch.New(blankDecoder{}, slog.Default())
	d.Register(s.Handle)
	d.StartSession(sid)

	typ, payload, size := "frame", "AAAA", 2
	resp := &domain.ServerResponse{Type: &typ, FramebufferWidth: &size, FramebufferHeight: &size, Payload: &payload}
	for _, ts := range []int64{200, 100, 300, 50} {
		_, err := d.Handle(ctx, resp, ts)
		require.NoError(t, err)
	}

	bus.Close()
	detach()

	assert.Equal(t, uint64(2), s.Stats().Stale)
	rec, err := journal.Session(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Stale)
}
