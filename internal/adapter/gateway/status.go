package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"isaac-client/internal/domain"
	"isaac-client/internal/usecase/steering"
)

// ClientView is the read-only part of the stream client the status route needs.
type ClientView interface {
	Endpoint() string
	ObserverID() int
	State() domain.ConnectionState
	SessionID() string
	Dimensions() (width, height int)
	SessionInfo() (*domain.ServerResponse, bool)
}

// StatsSource reports consumer-side steering statistics.
type StatsSource interface {
	Stats() steering.Stats
}

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Connection    ConnectionStatus `json:"connection"`
	Framebuffer   *Framebuffer     `json:"framebuffer,omitempty"`
	Session       *SessionStatus   `json:"session,omitempty"`
	Steering      *steering.Stats  `json:"steering,omitempty"`
}

// ConnectionStatus describes the current connection.
type ConnectionStatus struct {
	Endpoint   string `json:"endpoint"`
	State      string `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	ObserverID int    `json:"observer_id"`
}

// Framebuffer holds the last announced framebuffer size.
type Framebuffer struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionStatus summarizes the most recent session info message.
type SessionStatus struct {
	Name    string                    `json:"name,omitempty"`
	ID      *int                      `json:"id,omitempty"`
	Nodes   *int                      `json:"nodes,omitempty"`
	Streams []domain.StreamDescriptor `json:"streams"`
}

// Deps are the optional components whose routes Mount registers.
type Deps struct {
	Client   ClientView  // /api/v1/status
	Steering StatsSource // can be nil
	Metrics  *Metrics    // /metrics; can be nil
	Preview  *Preview    // /api/v1/frame.png; can be nil
	Version  string
}

// Mount registers the health route and the routes of every non-nil
// dependency. Must be called before Start().
func (s *Server) Mount(deps Deps) {
	s.RegisterHTTPRoute("/health", http.HandlerFunc(healthHandler))
	if deps.Metrics != nil {
		s.RegisterHTTPRoute("/metrics", deps.Metrics.Handler())
	}
	if deps.Client != nil {
		s.RegisterHTTPRoute("/api/v1/status", s.requireAuth(statusHandler(deps, time.Now())))
	}
	if deps.Preview != nil {
		s.RegisterHTTPRoute("/api/v1/frame.png", s.requireAuth(deps.Preview))
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps Deps, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(buildStatus(deps, startTime))
	}
}

func buildStatus(deps Deps, startTime time.Time) StatusResponse {
	c := deps.Client
	resp := StatusResponse{
		Version:       deps.Version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection: ConnectionStatus{
			Endpoint:   c.Endpoint(),
			State:      c.State().String(),
			SessionID:  c.SessionID(),
			ObserverID: c.ObserverID(),
		},
	}
	if w, h := c.Dimensions(); w > 0 && h > 0 {
		resp.Framebuffer = &Framebuffer{Width: w, Height: h}
	}
	if info, ok := c.SessionInfo(); ok {
		ss := &SessionStatus{ID: info.ID, Nodes: info.Nodes, Streams: info.Streams}
		if info.Name != nil {
			ss.Name = *info.Name
		}
		resp.Session = ss
	}
	if deps.Steering != nil {
		st := deps.Steering.Stats()
		resp.Steering = &st
	}
	return resp
}
