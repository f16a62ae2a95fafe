package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// loadWithFiles writes files into a temp dir, then loads main from it.
func loadWithFiles(t *testing.T, files map[string]string, main string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeConfigFile(t, dir, name, strings.ReplaceAll(content, "$DIR", dir))
	}
	return Load(writeConfigFile(t, dir, "isaac-client.yaml", strings.ReplaceAll(main, "$DIR", dir)))
}

func TestIncludesMerge(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		main  string
		check func(*Config) error
	}{
		{
			name:  "single file",
			files: map[string]string{"server.yaml": "server:\n  host: viz.cluster.local\n  port: 3000\n"},
			main:  "includes: [server.yaml]\n",
			check: func(c *Config) error {
				if got := c.Server.Endpoint(); got != "ws://viz.cluster.local:3000" {
					return fmt.Errorf("endpoint = %q", got)
				}
				return nil
			},
		},
		{
			name: "glob",
			files: map[string]string{
				"conf.d/observe.yaml":  "observe:\n  stream: 2\n",
				"conf.d/recorder.yaml": "recorder:\n  path: /custom/journal.db\n",
			},
			main: "includes: [\"conf.d/*.yaml\"]\n",
			check: func(c *Config) error {
				if c.Observe.Stream != 2 || c.Recorder.Path != "/custom/journal.db" {
					return fmt.Errorf("observe=%+v recorder=%+v", c.Observe, c.Recorder)
				}
				return nil
			},
		},
		{
			name:  "glob without matches",
			files: nil,
			main:  "includes: [\"conf.d/*.yaml\"]\nserver:\n  port: 2460\n",
			check: func(c *Config) error {
				if c.Server.Port != 2460 {
					return fmt.Errorf("port = %d", c.Server.Port)
				}
				return nil
			},
		},
		{
			name:  "absolute path",
			files: map[string]string{"abs.yaml": "logger:\n  level: warn\n"},
			main:  "includes: [\"$DIR/abs.yaml\"]\n",
			check: func(c *Config) error {
				if c.Logger.Level != "warn" {
					return fmt.Errorf("level = %q", c.Logger.Level)
				}
				return nil
			},
		},
		{
			name:  "main file wins",
			files: map[string]string{"override.yaml": "observe:\n  stream: 5\n  observer_id: 9\n"},
			main:  "includes: [override.yaml]\nobserve:\n  stream: 1\n",
			check: func(c *Config) error {
				if c.Observe.Stream != 1 || c.Observe.ObserverID != 9 {
					return fmt.Errorf("stream=%d observer=%d, want 1 and 9", c.Observe.Stream, c.Observe.ObserverID)
				}
				return nil
			},
		},
		{
			name: "nested",
			files: map[string]string{
				"level1.yaml": "includes: [level2.yaml]\nlogger:\n  level: debug\n",
				"level2.yaml": "logger:\n  format: json\n",
			},
			main: "includes: [level1.yaml]\n",
			check: func(c *Config) error {
				if c.Logger.Format != "json" || c.Logger.Level != "debug" {
					return fmt.Errorf("logger = %+v", c.Logger)
				}
				return nil
			},
		},
		{
			name:  "empty include keeps defaults",
			files: map[string]string{"empty.yaml": ""},
			main:  "includes: [empty.yaml]\n",
			check: func(c *Config) error {
				if c.Server.Port != DefaultPort {
					return fmt.Errorf("port = %d", c.Server.Port)
				}
				return nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadWithFiles(t, tt.files, tt.main)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if err := tt.check(cfg); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestIncludesErrors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		main  string
		want  string
	}{
		{"circular", map[string]string{"a.yaml": "includes: [b.yaml]\n", "b.yaml": "includes: [a.yaml]\n"}, "includes: [a.yaml]\n", "circular include"},
		{"self reference", nil, "includes: [isaac-client.yaml]\n", "circular include"},
		{"escapes directory", nil, "includes: [\"../../../etc/passwd\"]\n", "escapes config directory"},
		{"missing file", nil, "includes: [nonexistent.yaml]\n", "nonexistent.yaml"},
		{"invalid yaml", map[string]string{"bad.yaml": "invalid: [yaml: bad"}, "includes: [bad.yaml]\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWithFiles(t, tt.files, tt.main)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestIncludesFilePermissions(t *testing.T) {
	dir := t.TempDir()
	bad := writeConfigFile(t, dir, "insecure.yaml", "logger:\n  level: debug\n")
	if err := os.Chmod(bad, 0o666); err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, dir, "isaac-client.yaml", "includes: [insecure.yaml]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permissions error, got %v", err)
	}
}

func TestIncludesMaxDepth(t *testing.T) {
	files := make(map[string]string)
	levels := maxIncludeDepth + 2
	for i := 1; i <= levels; i++ {
		content := ""
		if i < levels {
			content = fmt.Sprintf("includes: [level%d.yaml]\n", i+1)
		}
		files[fmt.Sprintf("level%d.yaml", i)] = content
	}

	_, err := loadWithFiles(t, files, "includes: [level1.yaml]\n")
	if err == nil || !strings.Contains(err.Error(), "max depth") {
		t.Fatalf("expected max depth error, got %v", err)
	}
}
