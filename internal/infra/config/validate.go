package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateObserve(cfg, ve)
	validateSteering(cfg, ve)
	validateRecorder(cfg, ve)
	validateGateway(cfg, ve)
	validateReconnect(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Host == "" {
		ve.Add("server.host must not be empty")
	}
	if s.Port <= 0 || s.Port > 65535 {
		ve.Add("server.port %d is out of range 1-65535", s.Port)
	}
	if s.Scheme != "ws" && s.Scheme != "wss" {
		ve.Add("server.scheme %q must be \"ws\" or \"wss\"", s.Scheme)
	}
	if s.Subprotocol == "" {
		ve.Add("server.subprotocol must not be empty")
	}
	if s.DialTimeout <= 0 {
		ve.Add("server.dial_timeout must be > 0")
	}
	if s.WriteTimeout <= 0 {
		ve.Add("server.write_timeout must be > 0")
	}
	if s.OpenTimeout <= 0 {
		ve.Add("server.open_timeout must be > 0")
	}
	if s.CloseTimeout <= 0 {
		ve.Add("server.close_timeout must be > 0")
	}
	if s.MaxMessageBytes <= 0 {
		ve.Add("server.max_message_bytes must be > 0")
	}
}

func validateObserve(cfg *Config, ve *ValidationError) {
	if cfg.Observe.Stream < 0 {
		ve.Add("observe.stream must be >= 0")
	}
	if cfg.Observe.StreamName != "" && cfg.Observe.SessionInfoTimeout <= 0 {
		ve.Add("observe.session_info_timeout must be > 0 when observe.stream_name is set")
	}
}

func validateSteering(cfg *Config, ve *ValidationError) {
	st := cfg.Steering
	if !st.Enabled {
		return
	}
	if st.FeedbackRate < 0 {
		ve.Add("steering.feedback_rate must be >= 0")
	}
	if st.FeedbackBurst < 0 {
		ve.Add("steering.feedback_burst must be >= 0")
	}
	o := st.Orbit
	if o.Radius <= 0 {
		ve.Add("steering.orbit.radius must be > 0")
	}
	if o.FovY <= 0 || o.FovY >= 180 {
		ve.Add("steering.orbit.fov_y must be in (0, 180)")
	}
	if o.Near <= 0 || o.Far <= o.Near {
		ve.Add("steering.orbit requires 0 < near < far")
	}
}

func validateRecorder(cfg *Config, ve *ValidationError) {
	if cfg.Recorder.Enabled && cfg.Recorder.Path == "" {
		ve.Add("recorder.path is required when recorder is enabled")
	}
	if cfg.Recorder.Retention < 0 {
		ve.Add("recorder.retention must be >= 0")
	}
	if cfg.Recorder.Retention > 0 && cfg.Recorder.PruneSchedule == "" {
		ve.Add("recorder.prune_schedule is required when recorder.retention is set")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if rl := cfg.Gateway.RateLimit; rl.PerMinute < 0 {
		ve.Add("gateway.rate_limit.per_minute must be >= 0")
	} else if rl.PerMinute > 0 && rl.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is on")
	}
	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty when auth type is \"static\"")
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is not supported (want \"static\" or empty)", cfg.Gateway.Auth.Type)
	}
}

func validateReconnect(cfg *Config, ve *ValidationError) {
	r := cfg.Reconnect
	if !r.Enabled {
		return
	}
	if r.MaxFailures == 0 {
		ve.Add("reconnect.max_failures must be > 0")
	}
	if r.BackoffBase <= 0 {
		ve.Add("reconnect.backoff_base must be > 0")
	}
	if r.BackoffMax < r.BackoffBase {
		ve.Add("reconnect.backoff_max must be >= reconnect.backoff_base")
	}
	if r.BreakerTimeout <= 0 {
		ve.Add("reconnect.breaker_timeout must be > 0")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q must be \"text\" or \"json\"", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout", "stderr":
	default:
		ve.Add("tracer.exporter %q must be \"noop\", \"stdout\" or \"stderr\"", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio %g must be in [0, 1]", r)
	}
}
