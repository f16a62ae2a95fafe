package main

import (
	"time"

	"github.com/spf13/pflag"

	"isaac-client/internal/infra/config"
)

const defaultConfigPath = "./isaac-client.yaml"

// cliFlags are the flags shared by every subcommand. Only flags the user
// actually set override the loaded config.
type cliFlags struct {
	fs *pflag.FlagSet

	configPath string
	host       string
	port       int
	stream     int
	streamName string
	dropable   bool
	observerID int
	timeout    time.Duration
}

func newFlags(name string) *cliFlags {
	f := &cliFlags{fs: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	f.fs.StringVarP(&f.configPath, "config", "c", defaultConfigPath, "config file path")
	f.fs.StringVar(&f.host, "host", config.DefaultHost, "ISAAC server host")
	f.fs.IntVarP(&f.port, "port", "p", config.DefaultPort, "ISAAC server port")
	f.fs.IntVarP(&f.stream, "stream", "s", 0, "stream id to observe")
	f.fs.StringVar(&f.streamName, "stream-name", "", "observe the stream with this name (waits for session info)")
	f.fs.BoolVar(&f.dropable, "dropable", false, "allow the server to drop frames for this observer")
	f.fs.IntVar(&f.observerID, "observer-id", 0, "observer id sent with every message")
	f.fs.DurationVarP(&f.timeout, "timeout", "t", 10*time.Second, "connection open timeout")
	return f
}

func (f *cliFlags) parse(args []string) error {
	return f.fs.Parse(args)
}

// loadConfig loads the config file and applies the flags that were set.
func (f *cliFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	f.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *cliFlags) apply(cfg *config.Config) {
	if f.fs.Changed("host") {
		cfg.Server.Host = f.host
	}
	if f.fs.Changed("port") {
		cfg.Server.Port = f.port
	}
	if f.fs.Changed("stream") {
		cfg.Observe.Stream = f.stream
	}
	if f.fs.Changed("stream-name") {
		cfg.Observe.StreamName = f.streamName
	}
	if f.fs.Changed("dropable") {
		cfg.Observe.Dropable = f.dropable
	}
	if f.fs.Changed("observer-id") {
		cfg.Observe.ObserverID = f.observerID
	}
	if f.fs.Changed("timeout") {
		cfg.Server.OpenTimeout = f.timeout
	}
}
