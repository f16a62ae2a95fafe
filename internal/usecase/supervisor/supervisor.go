// Package supervisor is an opt-in reconnect policy for a stream client. The
// client itself never reconnects; the supervisor reopens sessions with
// exponential backoff and stops hammering a dead server through a circuit
// breaker.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"isaac-client/internal/domain"
)

// Default supervisor settings.
const (
	defaultMaxFailures    uint32        = 5
	defaultBreakerTimeout time.Duration = 30 * time.Second
	defaultBackoffBase    time.Duration = 500 * time.Millisecond
	defaultBackoffMax     time.Duration = 15 * time.Second
)

// Connector is the session lifecycle the supervisor drives.
type Connector interface {
	Open(ctx context.Context) error
	Done(ctx context.Context) error
	Close() error
}

// SessionFunc runs once per opened session, e.g. to send the observe
// request. A returned error closes the session and counts as a failure.
type SessionFunc func(ctx context.Context) error

// Config tunes the supervisor.
type Config struct {
	// MaxFailures is the number of consecutive failed attempts that opens the circuit.
	MaxFailures uint32
	// BreakerTimeout is how long the circuit stays open before one probe attempt.
	BreakerTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	// StopWhenOpen makes Run return ErrCircuitOpen instead of waiting for the
	// breaker to half-open.
	StopWhenOpen bool
}

// Supervisor keeps a Connector connected until its context ends.
type Supervisor struct {
	conn      Connector
	onSession SessionFunc
	cfg       Config
	breaker   *gobreaker.CircuitBreaker[struct{}]
	bus       domain.EventBus
	logger    *slog.Logger

	sleep    func(ctx context.Context, d time.Duration) error
	sessions atomic.Uint64
	failures atomic.Uint32
}

// New creates a supervisor. onSession and bus may be nil.
func New(conn Connector, onSession SessionFunc, cfg Config, bus domain.EventBus, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(defaultBackoffMax, cfg.BackoffBase)
	}

	maxFailures := cfg.MaxFailures
	s := &Supervisor{
		conn:      conn,
		onSession: onSession,
		cfg:       cfg,
		bus:       bus,
		logger:    logger,
		sleep:     sleepContext,
	}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "reconnect",
		MaxRequests: 1, // one probe in half-open state
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return s
}

// Run opens sessions until ctx ends. It returns ctx.Err() on cancellation,
// or an error matching domain.ErrCircuitOpen when StopWhenOpen is set and the
// breaker trips.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.attempt(ctx)
		})
		if ctx.Err() != nil {
			_ = s.conn.Close()
			return ctx.Err()
		}

		var wait time.Duration
		switch {
		case err == nil:
			// The session ran and then closed; reconnect promptly.
			s.failures.Store(0)
			wait = s.cfg.BackoffBase
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			if s.cfg.StopWhenOpen {
				s.publish(ctx, domain.EventReconnectGaveUp, map[string]any{"failures": s.failures.Load()})
				return fmt.Errorf("supervisor: %w", domain.ErrCircuitOpen)
			}
			wait = s.cfg.BreakerTimeout
		default:
			n := s.failures.Add(1)
			wait = s.backoff(n)
			s.logger.Warn("session attempt failed", "error", err, "failures", n, "retry_in", wait)
		}

		s.publish(ctx, domain.EventReconnectScheduled, map[string]any{"in_ms": wait.Milliseconds()})
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// attempt opens one session and blocks until it closes. Only failures to
// open or to start the session count against the breaker.
func (s *Supervisor) attempt(ctx context.Context) error {
	if err := s.conn.Open(ctx); err != nil {
		_ = s.conn.Close()
		return err
	}
	if s.onSession != nil {
		if err := s.onSession(ctx); err != nil {
			_ = s.conn.Close()
			return err
		}
	}
	n := s.sessions.Add(1)
	s.logger.Info("session established", "sessions", n)

	if err := s.conn.Done(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// backoff returns BackoffBase doubled per consecutive failure, capped at BackoffMax.
func (s *Supervisor) backoff(failures uint32) time.Duration {
	d := s.cfg.BackoffBase
	for i := uint32(1); i < failures && d < s.cfg.BackoffMax; i++ {
		d *= 2
	}
	return min(d, s.cfg.BackoffMax)
}

// Sessions returns how many sessions were established.
func (s *Supervisor) Sessions() uint64 { return s.sessions.Load() }

// State returns the breaker state for monitoring.
func (s *Supervisor) State() gobreaker.State { return s.breaker.State() }

func (s *Supervisor) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(t, "", payload))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
