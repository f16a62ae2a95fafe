// Package gateway is the operator-facing HTTP surface of a running client:
// Prometheus metrics, a JSON status document, the latest frame as PNG and a
// WebSocket feed of lifecycle events.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"isaac-client/internal/domain"
	"isaac-client/internal/infra/middleware"
)

const (
	clientQueueSize = 64
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// clientConn tracks a single event-feed connection.
type clientConn struct {
	name      string
	types     map[domain.EventType]bool // nil forwards everything
	ws        *websocket.Conn
	sendCh    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) wants(t domain.EventType) bool {
	return cc.types == nil || cc.types[t]
}

func (cc *clientConn) stop() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server serves the gateway routes and forwards bus events to WebSocket
// subscribers on /ws.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	logger     *slog.Logger
	addr       string
	nextID     atomic.Uint64
	httpRoutes []httpRoute
	middleware []func(http.Handler) http.Handler

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
}

type httpRoute struct {
	pattern string
	handler http.Handler
}

// NewServer creates a gateway server. A nil auth leaves every route open.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bus:    bus,
		auth:   auth,
		logger: logger,
		addr:   addr,
	}
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.Handler) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Use appends middleware wrapped around every route, the event feed
// included. The first middleware is the outermost. Must be called before Start().
func (s *Server) Use(mws ...func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mws...)
}

// Start begins serving. Blocks until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.Handle(route.pattern, route.handler)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           middleware.Chain(mux, s.middleware...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(s.forward)
	}
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) forward(_ context.Context, event domain.Event) {
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		if !cc.wants(event.Type) {
			return true
		}
		select {
		case cc.sendCh <- event:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "client", cc.name, "event", string(event.Type))
		}
		return true
	})
}

// Stop gracefully shuts down the gateway server. Later calls are no-ops.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsub := s.unsubAll
	s.unsubAll = nil
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.stop()
		_ = cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// handleUpgrade accepts an event-feed subscriber. The optional "types" query
// parameter is a comma-separated list of event types to forward.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		name:   info.Name,
		types:  parseTypes(r.URL.Query().Get("types")),
		ws:     ws,
		sendCh: make(chan domain.Event, clientQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", info.Name)

	// Subscribers never send; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	s.writeLoop(ctx, cc)

	cc.stop()
	s.clients.Delete(connID)
	_ = ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) writeLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cc.done:
			return
		case event := <-cc.sendCh:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, cc.ws, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func parseTypes(raw string) map[domain.EventType]bool {
	if raw == "" {
		return nil
	}
	types := make(map[domain.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[domain.EventType(t)] = true
		}
	}
	if len(types) == 0 {
		return nil
	}
	return types
}
