package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol defaults.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 2459
	DefaultScheme      = "ws"
	DefaultSubprotocol = "isaac-json-protocol"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Observe   ObserveConfig   `yaml:"observe"`
	Steering  SteeringConfig  `yaml:"steering"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// ServerConfig locates the ISAAC server and bounds the connection.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Scheme          string        `yaml:"scheme"` // "ws" or "wss"
	Subprotocol     string        `yaml:"subprotocol"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	OpenTimeout     time.Duration `yaml:"open_timeout"`
	CloseTimeout    time.Duration `yaml:"close_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

// Endpoint builds "<scheme>://<host>:<port>".
func (s ServerConfig) Endpoint() string {
	return s.Scheme + "://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ObserveConfig selects the stream to subscribe to after the connection opens.
// When StreamName is set it wins over Stream and is resolved from session info.
type ObserveConfig struct {
	Stream             int           `yaml:"stream"`
	StreamName         string        `yaml:"stream_name,omitempty"`
	Dropable           bool          `yaml:"dropable"`
	ObserverID         int           `yaml:"observer_id"`
	SessionInfoTimeout time.Duration `yaml:"session_info_timeout"`
}

// SteeringConfig holds the consumer-side frame loop settings.
type SteeringConfig struct {
	Enabled        bool        `yaml:"enabled"`
	FeedbackRate   float64     `yaml:"feedback_rate"` // messages per second; 0 = unlimited
	FeedbackBurst  int         `yaml:"feedback_burst"`
	SendProjection bool        `yaml:"send_projection"`
	Orbit          OrbitConfig `yaml:"orbit"`
}

// OrbitConfig parameterizes the synthetic orbit camera.
type OrbitConfig struct {
	Radius float32 `yaml:"radius"`
	Speed  float32 `yaml:"speed"` // radians per second
	FovY   float32 `yaml:"fov_y"` // degrees
	Near   float32 `yaml:"near"`
	Far    float32 `yaml:"far"`
	Height float32 `yaml:"height"`
}

// RecorderConfig holds the SQLite frame journal settings.
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Retention drops closed sessions older than this. Zero keeps everything.
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron expression or duration
}

// GatewayConfig holds status gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP. PerMinute 0 disables it.
type RateLimitConfig struct {
	PerMinute      int      `yaml:"per_minute"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// ReconnectConfig holds the optional reconnect supervisor settings.
type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxFailures    uint32        `yaml:"max_failures"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
	StopWhenOpen   bool          `yaml:"stop_when_open"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"` // stderr, stdout, discard or a file path
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // noop, stdout or stderr
	// SampleRatio is the fraction of traces kept, in [0, 1].
	SampleRatio float64 `yaml:"sample_ratio"`
}

// defaultDataDir returns the persistent data directory under $HOME/.isaac-client.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".isaac-client")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			Scheme:          DefaultScheme,
			Subprotocol:     DefaultSubprotocol,
			DialTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			OpenTimeout:     10 * time.Second,
			CloseTimeout:    5 * time.Second,
			MaxMessageBytes: 64 << 20,
		},
		Observe: ObserveConfig{
			SessionInfoTimeout: 10 * time.Second,
		},
		Steering: SteeringConfig{
			Enabled:        true,
			FeedbackRate:   30,
			FeedbackBurst:  1,
			SendProjection: true,
			Orbit: OrbitConfig{
				Radius: 5,
				Speed:  0.5,
				FovY:   45,
				Near:   0.1,
				Far:    100,
			},
		},
		Recorder: RecorderConfig{
			Path:          filepath.Join(defaultDataDir(), "journal.db"),
			PruneSchedule: "@hourly",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:9459",
			RateLimit: RateLimitConfig{
				PerMinute: 600,
				Burst:     60,
			},
		},
		Reconnect: ReconnectConfig{
			MaxFailures:    5,
			BackoffBase:    500 * time.Millisecond,
			BackoffMax:     15 * time.Second,
			BreakerTimeout: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing file
// yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps ISAAC_* env vars to config fields. Values that do
// not parse are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ISAAC_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ISAAC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("ISAAC_SCHEME"); v != "" {
		cfg.Server.Scheme = v
	}
	if v := os.Getenv("ISAAC_OPEN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Server.OpenTimeout = d
		}
	}
	if v := os.Getenv("ISAAC_OBSERVE_STREAM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Observe.Stream = n
		}
	}
	if v := os.Getenv("ISAAC_OBSERVE_STREAM_NAME"); v != "" {
		cfg.Observe.StreamName = v
	}
	if v := os.Getenv("ISAAC_OBSERVE_DROPABLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Observe.Dropable = b
		}
	}
	if v := os.Getenv("ISAAC_OBSERVER_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Observe.ObserverID = n
		}
	}
	if v := os.Getenv("ISAAC_STEERING_ENABLED"); v == "false" {
		cfg.Steering.Enabled = false
	}
	if v := os.Getenv("ISAAC_STEERING_FEEDBACK_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Steering.FeedbackRate = f
		}
	}
	if v := os.Getenv("ISAAC_RECORDER_ENABLED"); v == "true" {
		cfg.Recorder.Enabled = true
	}
	if v := os.Getenv("ISAAC_RECORDER_PATH"); v != "" {
		cfg.Recorder.Path = v
	}
	if v := os.Getenv("ISAAC_RECORDER_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recorder.Retention = d
		}
	}
	if v := os.Getenv("ISAAC_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("ISAAC_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("ISAAC_GATEWAY_TOKENS"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = nil
		for i, tok := range splitAndTrim(v, ",") {
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  "env-" + strconv.Itoa(i),
			})
		}
	}
	if v := os.Getenv("ISAAC_RECONNECT_ENABLED"); v == "true" {
		cfg.Reconnect.Enabled = true
	}
	if v := os.Getenv("ISAAC_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ISAAC_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ISAAC_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("ISAAC_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ISAAC_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element,
// dropping empty elements.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
// Gateway tokens live in the file, so it must not be writable by others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
