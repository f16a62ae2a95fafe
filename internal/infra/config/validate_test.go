package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty host", func(c *Config) { c.Server.Host = "" }, "server.host must not be empty"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port 0 is out of range 1-65535"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port 70000 is out of range"},
		{"bad scheme", func(c *Config) { c.Server.Scheme = "http" }, `server.scheme "http" must be "ws" or "wss"`},
		{"empty subprotocol", func(c *Config) { c.Server.Subprotocol = "" }, "server.subprotocol must not be empty"},
		{"open timeout", func(c *Config) { c.Server.OpenTimeout = 0 }, "server.open_timeout must be > 0"},
		{"close timeout", func(c *Config) { c.Server.CloseTimeout = -time.Second }, "server.close_timeout must be > 0"},
		{"message limit", func(c *Config) { c.Server.MaxMessageBytes = 0 }, "server.max_message_bytes must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateObserve(t *testing.T) {
	cfg := Defaults()
	cfg.Observe.Stream = -1
	cfg.Observe.StreamName = "camera"
	cfg.Observe.SessionInfoTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "observe.stream must be >= 0")
	assertContains(t, err.Error(), "observe.session_info_timeout must be > 0")
}

func TestValidateSteeringOrbit(t *testing.T) {
	cfg := Defaults()
	cfg.Steering.Orbit.Radius = 0
	cfg.Steering.Orbit.FovY = 180
	cfg.Steering.Orbit.Near = 10
	cfg.Steering.Orbit.Far = 1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve := err.(*ValidationError)
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
	assertContains(t, err.Error(), "steering.orbit.radius must be > 0")
	assertContains(t, err.Error(), "steering.orbit.fov_y must be in (0, 180)")
	assertContains(t, err.Error(), "steering.orbit requires 0 < near < far")
}

func TestValidateSteeringDisabledSkipsChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Steering.Enabled = false
	cfg.Steering.FeedbackRate = -1
	cfg.Steering.Orbit.Radius = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled steering should not be validated: %v", err)
	}
}

func TestValidateRecorderPath(t *testing.T) {
	cfg := Defaults()
	cfg.Recorder.Enabled = true
	cfg.Recorder.Path = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "recorder.path is required")
}

func TestValidateRecorderRetention(t *testing.T) {
	cfg := Defaults()
	cfg.Recorder.Retention = -time.Hour
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "recorder.retention must be >= 0")

	cfg = Defaults()
	cfg.Recorder.Retention = 24 * time.Hour
	cfg.Recorder.PruneSchedule = ""
	err = Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "recorder.prune_schedule is required")
}

func TestValidateGateway(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
		want   string
	}{
		{"missing addr", func(g *GatewayConfig) { g.Addr = "" }, "gateway.addr is required"},
		{"bad addr", func(g *GatewayConfig) { g.Addr = "localhost" }, `gateway.addr "localhost" is not a valid host:port`},
		{"static without tokens", func(g *GatewayConfig) { g.Auth.Type = "static" }, "gateway.auth.tokens must not be empty"},
		{"empty token", func(g *GatewayConfig) {
			g.Auth.Type = "static"
			g.Auth.Tokens = []TokenConfig{{Token: "", Name: "ops"}}
		}, "gateway.auth.tokens[0].token must not be empty"},
		{"negative rate", func(g *GatewayConfig) { g.RateLimit.PerMinute = -1 }, "gateway.rate_limit.per_minute must be >= 0"},
		{"zero burst", func(g *GatewayConfig) { g.RateLimit.Burst = 0 }, "gateway.rate_limit.burst must be > 0"},
		{"unknown auth", func(g *GatewayConfig) { g.Auth.Type = "oauth" }, `gateway.auth.type "oauth" is not supported`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Gateway.Enabled = true
			tt.mutate(&cfg.Gateway)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateGatewayStaticTokensPass(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Enabled = true
	cfg.Gateway.Auth = AuthConfig{Type: "static", Tokens: []TokenConfig{{Token: "s3cret", Name: "ops"}}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateReconnect(t *testing.T) {
	cfg := Defaults()
	cfg.Reconnect.Enabled = true
	cfg.Reconnect.MaxFailures = 0
	cfg.Reconnect.BackoffBase = 2 * time.Second
	cfg.Reconnect.BackoffMax = time.Second

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "reconnect.max_failures must be > 0")
	assertContains(t, err.Error(), "reconnect.backoff_max must be >= reconnect.backoff_base")
}

func TestValidateReconnectDisabledSkipsChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Reconnect.MaxFailures = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled reconnect should not be validated: %v", err)
	}
}

func TestValidateLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "verbose"
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `logger.level "verbose"`)
	assertContains(t, err.Error(), `logger.format "xml"`)
}

func TestValidateLoggerLevelCaseInsensitive(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "DEBUG"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `tracer.exporter "jaeger"`)
}

func TestValidateTracerSampleRatio(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "stderr"
	cfg.Tracer.SampleRatio = 1.5
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "tracer.sample_ratio 1.5 must be in [0, 1]")
}

func TestValidationErrorCollectsAll(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Host = ""
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	if len(ve.Errors) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.HasPrefix(err.Error(), "config validation failed:") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
