// Package steering is the consumer side of the frame stream: it filters
// stale frames, hands fresh ones to sinks and steers the remote renderer by
// sending the local camera back as feedback.
package steering

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"isaac-client/internal/domain"
)

// FeedbackSender sends camera state to the server.
type FeedbackSender interface {
	SendCamera(cam domain.CameraSource, withMatrices bool) error
}

// Config tunes a Steerer.
type Config struct {
	// FeedbackRate caps camera feedback messages per second. Zero or less
	// means one feedback per applied frame.
	FeedbackRate  float64
	FeedbackBurst int
	// SendProjection pushes projection and model-view once from Start.
	SendProjection bool
}

// Stats is a snapshot of Steerer counters.
type Stats struct {
	Applied         uint64 `json:"applied"`
	Stale           uint64 `json:"stale"`
	SinkErrors      uint64 `json:"sink_errors"`
	FeedbackSent    uint64 `json:"feedback_sent"`
	FeedbackSkipped uint64 `json:"feedback_skipped"`
	FeedbackFailed  uint64 `json:"feedback_failed"`
	LastApplied     int64  `json:"last_applied"`
}

// Steerer is a domain.PayloadHandler with a staleness watermark. A frame whose
// timestamp is older than the last applied frame is rejected; an equal
// timestamp is accepted.
type Steerer struct {
	camera  domain.CameraSource
	sender  FeedbackSender
	limiter *rate.Limiter
	cfg     Config
	bus     domain.EventBus
	logger  *slog.Logger

	mu      sync.Mutex
	sinks   []domain.FrameSink
	applied bool
	stats   Stats
}

// New creates a Steerer. bus may be nil.
func New(cfg Config, camera domain.CameraSource, sender FeedbackSender, bus domain.EventBus, logger *slog.Logger) *Steerer {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.FeedbackRate > 0 {
		limit = rate.Limit(cfg.FeedbackRate)
	}
	if cfg.FeedbackBurst <= 0 {
		cfg.FeedbackBurst = 1
	}
	return &Steerer{
		camera:  camera,
		sender:  sender,
		limiter: rate.NewLimiter(limit, cfg.FeedbackBurst),
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
	}
}

// AddSink appends a sink. Sinks are applied in the order they were added.
func (s *Steerer) AddSink(sink domain.FrameSink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Start sends the initial camera state, including matrices when configured.
// Call it right after observing a stream.
func (s *Steerer) Start(ctx context.Context) error {
	if s.camera == nil || s.sender == nil {
		return nil
	}
	return s.sender.SendCamera(s.camera, s.cfg.SendProjection)
}

// Handle is the payload handler. It is safe to register it with several
// clients at once; the watermark is shared.
func (s *Steerer) Handle(ctx context.Context, frame domain.Frame) {
	if !s.apply(ctx, frame) {
		return
	}
	s.feedback()
}

func (s *Steerer) apply(ctx context.Context, frame domain.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied && frame.Timestamp < s.stats.LastApplied {
		s.stats.Stale++
		s.logger.Debug("stale frame rejected", "session", frame.SessionID,
			"timestamp", frame.Timestamp, "last_applied", s.stats.LastApplied)
		if s.bus != nil {
			s.bus.Publish(ctx, domain.NewEvent(domain.EventFrameStale, frame.SessionID,
				domain.FramePayload{Width: frame.Width, Height: frame.Height, Timestamp: frame.Timestamp}))
		}
		return false
	}

	for _, sink := range s.sinks {
		if err := sink.ApplyFrame(ctx, frame); err != nil {
			s.stats.SinkErrors++
			s.logger.Warn("frame sink failed", "error", err)
		}
	}
	s.applied = true
	s.stats.LastApplied = frame.Timestamp
	s.stats.Applied++
	return true
}

func (s *Steerer) feedback() {
	if s.camera == nil || s.sender == nil {
		return
	}
	if !s.limiter.Allow() {
		s.count(func(st *Stats) { st.FeedbackSkipped++ })
		return
	}
	if err := s.sender.SendCamera(s.camera, false); err != nil {
		s.logger.Debug("camera feedback not sent", "error", err)
		s.count(func(st *Stats) { st.FeedbackFailed++ })
		return
	}
	s.count(func(st *Stats) { st.FeedbackSent++ })
}

func (s *Steerer) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (s *Steerer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset clears the watermark, e.g. when a new session starts and timestamps
// restart.
func (s *Steerer) Reset() {
	s.mu.Lock()
	s.applied = false
	s.stats.LastApplied = 0
	s.mu.Unlock()
}
