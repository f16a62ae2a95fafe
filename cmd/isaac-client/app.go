package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"isaac-client/internal/adapter/camera"
	"isaac-client/internal/adapter/gateway"
	"isaac-client/internal/adapter/recorder"
	"isaac-client/internal/adapter/transport"
	"isaac-client/internal/domain"
	"isaac-client/internal/infra/config"
	"isaac-client/internal/infra/logger"
	"isaac-client/internal/infra/middleware"
	"isaac-client/internal/infra/tracer"
	"isaac-client/internal/usecase/eventbus"
	"isaac-client/internal/usecase/scheduling"
	"isaac-client/internal/usecase/steering"
	"isaac-client/internal/usecase/stream"
	"isaac-client/internal/usecase/supervisor"
)

// features selects the optional components an app wires up.
type features struct {
	steering bool
	recorder bool
	gateway  bool
}

// app holds the wired components of one process.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	bus    *eventbus.Bus
	client *stream.Client

	steerer *steering.Steerer // nil when steering is off

	closers []func() error
}

// newApp builds the logger, tracer, bus and client from cfg and wires the
// optional components enabled in both cfg and want.
func newApp(ctx context.Context, cfg *config.Config, want features) (*app, error) {
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, logCloser)

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	a.bus = eventbus.New(logger.Component(log, "eventbus"))
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	var metrics *gateway.Metrics
	if want.gateway && cfg.Gateway.Enabled {
		metrics = gateway.NewMetrics()
	}

	opts := stream.Options{
		Endpoint:    cfg.Server.Endpoint(),
		ObserverID:  cfg.Observe.ObserverID,
		OpenTimeout: cfg.Server.OpenTimeout,
		Transport: transport.Config{
			Subprotocol:     cfg.Server.Subprotocol,
			DialTimeout:     cfg.Server.DialTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			CloseTimeout:    cfg.Server.CloseTimeout,
			MaxMessageBytes: cfg.Server.MaxMessageBytes,
		},
		Bus: a.bus,
	}
	if metrics != nil {
		opts.Metrics = metrics
	}
	a.client = stream.New(opts, logger.Component(log, "stream"))

	var preview *gateway.Preview
	if metrics != nil {
		preview = gateway.NewPreview()
	}

	if want.steering && cfg.Steering.Enabled {
		a.wireSteering(preview)
	} else if preview != nil {
		a.client.RegisterPayloadHandler(func(ctx context.Context, frame domain.Frame) {
			if err := preview.ApplyFrame(ctx, frame); err != nil {
				a.log.Warn("preview rejected frame", "error", err)
			}
		})
	}

	if want.recorder && cfg.Recorder.Enabled {
		journal, err := recorder.Open(cfg.Recorder.Path, logger.Component(log, "recorder"))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("recorder: %w", err)
		}
		detach := journal.Attach(a.bus)
		// Detach before Close so no handler writes to a closed database.
		a.closers = append(a.closers, func() error { detach(); return journal.Close() })

		if cfg.Recorder.Retention > 0 {
			if err := a.scheduleRetention(ctx, journal); err != nil {
				a.close()
				return nil, err
			}
		}
	}

	if metrics != nil {
		if err := a.wireGateway(ctx, metrics, preview); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// scheduleRetention prunes the journal on the configured schedule. The
// scheduler stops before the journal closes.
func (a *app) scheduleRetention(ctx context.Context, journal *recorder.Journal) error {
	retention := a.cfg.Recorder.Retention
	sched := scheduling.NewScheduler(logger.Component(a.log, "scheduler"))
	if err := sched.AddTask(scheduling.Task{
		Name:     "journal-retention",
		Schedule: a.cfg.Recorder.PruneSchedule,
		Run: func(ctx context.Context) error {
			_, err := journal.Prune(ctx, time.Now().Add(-retention))
			return err
		},
	}); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	a.closers = append(a.closers, sched.Stop)
	return nil
}

func (a *app) wireSteering(preview *gateway.Preview) {
	o := a.cfg.Steering.Orbit
	orbit := camera.NewOrbit(camera.Config{
		Radius: o.Radius,
		Speed:  o.Speed,
		FovY:   o.FovY,
		Near:   o.Near,
		Far:    o.Far,
		Height: o.Height,
	})
	a.steerer = steering.New(steering.Config{
		FeedbackRate:   a.cfg.Steering.FeedbackRate,
		FeedbackBurst:  a.cfg.Steering.FeedbackBurst,
		SendProjection: a.cfg.Steering.SendProjection,
	}, orbit, a.client, a.bus, logger.Component(a.log, "steering"))
	a.steerer.AddSink(orbit)
	if preview != nil {
		a.steerer.AddSink(preview)
	}
	a.client.RegisterPayloadHandler(a.steerer.Handle)
}

func (a *app) wireGateway(ctx context.Context, metrics *gateway.Metrics, preview *gateway.Preview) error {
	if err := metrics.AddCounterFunc("eventbus_dropped_total", "Events dropped by full subscriber queues.",
		func() float64 { return float64(a.bus.Dropped()) }); err != nil {
		return fmt.Errorf("gateway metrics: %w", err)
	}

	deps := gateway.Deps{
		Client:  a.client,
		Metrics: metrics,
		Preview: preview,
		Version: version,
	}
	if a.steerer != nil {
		deps.Steering = a.steerer
		steer := a.steerer
		counters := []struct {
			name, help string
			value      func(steering.Stats) uint64
		}{
			{"steering_frames_applied_total", "Frames applied to sinks.", func(s steering.Stats) uint64 { return s.Applied }},
			{"steering_frames_stale_total", "Frames rejected as older than the last applied frame.", func(s steering.Stats) uint64 { return s.Stale }},
			{"steering_feedback_sent_total", "Camera feedback messages sent.", func(s steering.Stats) uint64 { return s.FeedbackSent }},
		}
		for _, c := range counters {
			value := c.value
			if err := metrics.AddCounterFunc(c.name, c.help, func() float64 { return float64(value(steer.Stats())) }); err != nil {
				return fmt.Errorf("gateway metrics: %w", err)
			}
		}
	}

	var auth gateway.Authenticator
	if a.cfg.Gateway.Auth.Type == "static" {
		entries := make([]gateway.TokenEntry, 0, len(a.cfg.Gateway.Auth.Tokens))
		for _, t := range a.cfg.Gateway.Auth.Tokens {
			entries = append(entries, gateway.TokenEntry{Token: t.Token, Name: t.Name})
		}
		auth = gateway.NewStaticTokenAuth(entries)
	}

	gwLog := logger.Component(a.log, "gateway")
	srv := gateway.NewServer(a.bus, auth, a.cfg.Gateway.Addr, gwLog)
	srv.Mount(deps)
	srv.Use(middleware.SecurityHeaders)
	if rl := a.cfg.Gateway.RateLimit; rl.PerMinute > 0 {
		srv.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
			PerMinute:      rl.PerMinute,
			Burst:          rl.Burst,
			TrustedProxies: rl.TrustedProxies,
		}))
	}
	go func() {
		if err := srv.Start(ctx); err != nil {
			gwLog.Error("gateway stopped", "error", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(sctx)
	})
	return nil
}

// onSession observes the configured stream and starts steering. It runs
// once per opened session.
func (a *app) onSession(ctx context.Context) error {
	obs := a.cfg.Observe
	if obs.StreamName != "" {
		wctx, cancel := context.WithTimeout(ctx, obs.SessionInfoTimeout)
		desc, err := a.client.ObserveByName(wctx, obs.StreamName, obs.Dropable)
		cancel()
		if err != nil {
			return err
		}
		logger.Session(a.log, a.client.SessionID()).Info("resolved stream", "name", desc.Name, "stream", desc.ID)
	} else if err := a.client.Observe(ctx, obs.Stream, obs.Dropable); err != nil {
		return err
	}

	if a.steerer != nil {
		a.steerer.Reset()
		if err := a.steerer.Start(ctx); err != nil {
			a.log.Warn("initial camera feedback failed", "error", err)
		}
	}
	return nil
}

// serve keeps a session alive until ctx ends: through the reconnect
// supervisor when enabled, otherwise for a single session.
func (a *app) serve(ctx context.Context) error {
	r := a.cfg.Reconnect
	if r.Enabled {
		sup := supervisor.New(a.client, a.onSession, supervisor.Config{
			MaxFailures:    r.MaxFailures,
			BreakerTimeout: r.BreakerTimeout,
			BackoffBase:    r.BackoffBase,
			BackoffMax:     r.BackoffMax,
			StopWhenOpen:   r.StopWhenOpen,
		}, a.bus, logger.Component(a.log, "supervisor"))
		return sup.Run(ctx)
	}

	if err := a.client.Open(ctx); err != nil {
		return contextOr(ctx, err)
	}
	defer a.client.Close()

	if err := a.onSession(ctx); err != nil {
		return contextOr(ctx, err)
	}
	if err := a.client.Done(ctx); err != nil {
		return contextOr(ctx, err)
	}
	a.log.Info("session ended by server")
	return nil
}

// contextOr prefers ctx's error so cancellation is not reported as a
// transport timeout.
func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// close runs the closers in reverse order and logs failures.
func (a *app) close() {
	a.closeClient()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) closeClient() {
	if a.client == nil {
		return
	}
	if err := a.client.Close(); err != nil && !errors.Is(err, domain.ErrNotConnected) {
		a.log.Warn("close client", "error", err)
	}
}
