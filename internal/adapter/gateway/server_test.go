package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"isaac-client/internal/domain"
	"isaac-client/internal/infra/middleware"
)

// --- test doubles ---

type testBus struct {
	mu       sync.Mutex
	handlers []domain.EventHandler
}

func (b *testBus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	hs := make([]domain.EventHandler, len(b.handlers))
	copy(hs, b.handlers)
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx, event)
	}
}

func (b *testBus) Subscribe(_ domain.EventType, _ domain.EventHandler) func() { return func() {} }

func (b *testBus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers = nil
	}
}

func (b *testBus) Close() {}

func newTestAuth() Authenticator {
	return NewStaticTokenAuth([]TokenEntry{{Token: "test-token", Name: "tester"}})
}

func startTestServer(t *testing.T, bus domain.EventBus, auth Authenticator, setup func(*Server)) *Server {
	t.Helper()
	srv := NewServer(bus, auth, "127.0.0.1:0", slog.Default())
	if setup != nil {
		setup(srv)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = srv.Start(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for srv.BoundAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		srv.Stop(context.Background())
	})
	return srv
}

func dialWS(t *testing.T, addr, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws?"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

// waitClients blocks until the server has registered n subscribers.
func waitClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		count := 0
		srv.clients.Range(func(_, _ any) bool {
			count++
			return true
		})
		if count == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", count, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func httpGet(t *testing.T, url, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

// --- tests ---

func TestServerLifecycle(t *testing.T) {
	srv := startTestServer(t, &testBus{}, newTestAuth(), func(s *Server) { s.Mount(Deps{}) })

	if srv.BoundAddr() == "" {
		t.Fatal("BoundAddr is empty")
	}

	resp, body := httpGet(t, "http://"+srv.BoundAddr()+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.Get("http://" + srv.BoundAddr() + "/health"); err == nil {
		t.Error("expected request to fail after Stop")
	}
}

func TestServerMiddlewareWrapsRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := startTestServer(t, &testBus{}, nil, func(s *Server) {
		s.Mount(Deps{})
		s.Use(middleware.SecurityHeaders, middleware.RateLimit(ctx, middleware.RateLimitConfig{PerMinute: 6, Burst: 1}))
	})

	url := "http://" + srv.BoundAddr() + "/health"
	resp, _ := httpGet(t, url, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}

	resp, _ = httpGet(t, url, "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp.StatusCode)
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv := startTestServer(t, &testBus{}, nil, nil)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestServerAuthReject(t *testing.T) {
	srv := startTestServer(t, &testBus{}, newTestAuth(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=bad-token", nil)
	if err == nil {
		t.Fatal("expected auth rejection")
	}
}

func TestServerNoAuthAcceptsAnyone(t *testing.T) {
	srv := startTestServer(t, &testBus{}, nil, nil)
	dialWS(t, srv.BoundAddr(), "")
	waitClients(t, srv, 1)
}

func TestServerEventForwarding(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, newTestAuth(), nil)

	ws := dialWS(t, srv.BoundAddr(), "token=test-token")
	waitClients(t, srv, 1)

	bus.Publish(context.Background(), domain.NewEvent(domain.EventConnectionClosed, "sess-1",
		domain.ClosePayload{Code: 1001, Reason: "bye", Remote: true}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got domain.Event
	if err := wsjson.Read(ctx, ws, &got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != domain.EventConnectionClosed {
		t.Errorf("type = %q, want %q", got.Type, domain.EventConnectionClosed)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("session = %q", got.SessionID)
	}
	if string(got.Payload) != `{"code":1001,"reason":"bye","remote":true}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestServerEventTypeFilter(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, newTestAuth(), nil)

	ws := dialWS(t, srv.BoundAddr(), "token=test-token&types=frame.delivered")
	waitClients(t, srv, 1)

	bus.Publish(context.Background(), domain.NewEvent(domain.EventConnectionOpened, "s", nil))
	bus.Publish(context.Background(), domain.NewEvent(domain.EventFrameDelivered, "s",
		domain.FramePayload{Width: 2, Height: 2, Bytes: 12}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got domain.Event
	if err := wsjson.Read(ctx, ws, &got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != domain.EventFrameDelivered {
		t.Errorf("type = %q, want only frame.delivered", got.Type)
	}
}

func TestServerSlowClient(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, newTestAuth(), nil)

	dialWS(t, srv.BoundAddr(), "token=test-token") // connected but not reading
	waitClients(t, srv, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			bus.Publish(context.Background(), domain.NewEvent(domain.EventFrameDelivered, "s", nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on a slow client")
	}
}

func TestServerDisconnect(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, newTestAuth(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=test-token", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, srv, 1)

	ws.Close(websocket.StatusNormalClosure, "bye")
	waitClients(t, srv, 0)

	// Publishing with no subscribers must not panic.
	bus.Publish(context.Background(), domain.NewEvent(domain.EventFrameDelivered, "s", nil))
}

func TestServerConcurrentClients(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, newTestAuth(), nil)

	conns := make([]*websocket.Conn, 5)
	for i := range conns {
		conns[i] = dialWS(t, srv.BoundAddr(), "token=test-token")
	}
	waitClients(t, srv, len(conns))

	bus.Publish(context.Background(), domain.NewEvent(domain.EventSessionInfo, "s", nil))

	var wg sync.WaitGroup
	errs := make(chan error, len(conns))
	for _, ws := range conns {
		wg.Add(1)
		go func(ws *websocket.Conn) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			var got domain.Event
			if err := wsjson.Read(ctx, ws, &got); err != nil {
				errs <- err
			}
		}(ws)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("read: %v", err)
	}
}

func TestParseTypes(t *testing.T) {
	if parseTypes("") != nil {
		t.Error("empty should forward everything")
	}
	if parseTypes(" , ") != nil {
		t.Error("blank entries should forward everything")
	}
	got := parseTypes("frame.delivered, connection.closed")
	if len(got) != 2 || !got[domain.EventFrameDelivered] || !got[domain.EventConnectionClosed] {
		t.Errorf("parseTypes = %v", got)
	}
}
