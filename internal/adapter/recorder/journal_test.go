package recorder

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"isaac-client/internal/domain"
	"isaac-client/internal/usecase/eventbus"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_SessionLifecycle(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	const sid = "01J0000000000000000000TEST"

	events := []domain.Event{
		domain.NewEvent(domain.EventConnectionOpening, sid, map[string]string{"endpoint": "ws://127.0.0.1:2459"}),
		domain.NewEvent(domain.EventConnectionOpened, sid, nil),
		domain.NewEvent(domain.EventSessionInfo, sid, map[string]any{"name": "Example", "streams": []any{}}),
		domain.NewEvent(domain.EventFrameDelivered, sid, domain.FramePayload{Width: 8, Height: 8}),
		domain.NewEvent(domain.EventFrameDelivered, sid, domain.FramePayload{Width: 8, Height: 8}),
		domain.NewEvent(domain.EventFrameDropped, sid, domain.FramePayload{Error: "bad"}),
		domain.NewEvent(domain.EventFrameStale, sid, nil),
		domain.NewEvent(domain.EventConnectionClosed, sid, domain.ClosePayload{Code: 1001, Reason: "bye", Remote: true}),
	}
	for _, ev := range events {
		if err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record(%s): %v", ev.Type, err)
		}
	}

	got, err := j.Session(ctx, sid)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Endpoint != "ws://127.0.0.1:2459" {
		t.Errorf("Endpoint = %q", got.Endpoint)
	}
	if got.Name != "Example" {
		t.Errorf("Name = %q, want Example", got.Name)
	}
	if got.Frames != 2 || got.Dropped != 1 || got.Stale != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", got.Frames, got.Dropped, got.Stale)
	}
	if got.CloseCode != 1001 || got.CloseReason != "bye" || !got.Remote {
		t.Errorf("close = %d %q remote=%v", got.CloseCode, got.CloseReason, got.Remote)
	}
	if got.OpenedAt.IsZero() || got.ClosedAt.IsZero() {
		t.Error("expected opened and closed timestamps")
	}

	evs, err := j.Events(ctx, sid)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != len(events) {
		t.Fatalf("Events len = %d, want %d", len(evs), len(events))
	}
	for i, e := range evs {
		if e.Type != events[i].Type {
			t.Errorf("event %d type = %s, want %s", i, e.Type, events[i].Type)
		}
	}
}

func TestJournal_SessionNotFound(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Session(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJournal_EventsWithoutSession(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	if err := j.Record(ctx, domain.NewEvent(domain.EventReconnectScheduled, "", map[string]int{"in_ms": 500})); err != nil {
		t.Fatalf("Record: %v", err)
	}
	sessions, err := j.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(sessions))
	}
	evs, err := j.Events(ctx, "")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != domain.EventReconnectScheduled {
		t.Errorf("events = %+v", evs)
	}
}

func TestJournal_SessionsNewestFirst(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	for _, sid := range []string{"a", "b", "c"} {
		if err := j.Record(ctx, domain.NewEvent(domain.EventConnectionOpening, sid, nil)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	sessions, err := j.Sessions(ctx, 2)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	if sessions[0].ID != "c" {
		t.Errorf("first = %s, want c", sessions[0].ID)
	}
}

func TestJournal_AttachToBus(t *testing.T) {
	j := newTestJournal(t)
	bus := eventbus.New(slog.Default())
	detach := j.Attach(bus)

	ctx := context.Background()
	bus.Publish(ctx, domain.NewEvent(domain.EventConnectionOpening, "s1", nil))
	bus.Publish(ctx, domain.NewEvent(domain.EventFrameDelivered, "s1", domain.FramePayload{Width: 1, Height: 1}))
	bus.Close()
	detach()

	got, err := j.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Frames != 1 {
		t.Errorf("Frames = %d, want 1", got.Frames)
	}
}

func TestJournal_Prune(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	record := func(ev domain.Event, at time.Time) {
		t.Helper()
		ev.Timestamp = at
		if err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	// Closed long ago.
	record(domain.NewEvent(domain.EventConnectionOpening, "old", nil), old)
	record(domain.NewEvent(domain.EventConnectionClosed, "old", domain.ClosePayload{Code: 1000}), old)
	// Started long ago but still open.
	record(domain.NewEvent(domain.EventConnectionOpening, "open", nil), old)
	// Closed recently.
	record(domain.NewEvent(domain.EventConnectionOpening, "recent", nil), time.Now())
	record(domain.NewEvent(domain.EventConnectionClosed, "recent", domain.ClosePayload{Code: 1000}), time.Now())
	// Session-less.
	record(domain.NewEvent(domain.EventReconnectGaveUp, "", nil), old)

	n, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d sessions, want 1", n)
	}

	if _, err := j.Session(ctx, "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old session should be gone, err = %v", err)
	}
	if evs, _ := j.Events(ctx, "old"); len(evs) != 0 {
		t.Errorf("old events = %d, want 0", len(evs))
	}
	if evs, _ := j.Events(ctx, ""); len(evs) != 0 {
		t.Errorf("orphan events = %d, want 0", len(evs))
	}
	for _, id := range []string{"open", "recent"} {
		if _, err := j.Session(ctx, id); err != nil {
			t.Errorf("session %s should be kept: %v", id, err)
		}
	}
}

func TestFormatStampSortsChronologically(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := base.Add(500 * time.Millisecond)
	if !(formatStamp(base) < formatStamp(later)) {
		t.Errorf("%s should sort before %s", formatStamp(base), formatStamp(later))
	}
}
