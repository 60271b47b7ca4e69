package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dirzip/pkg/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dirzip.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("DIRZIP_TEST_METHOD", "zstd")
	path := writeConfig(t, `
method: ${DIRZIP_TEST_METHOD}
level: 9
log:
  level: ${DIRZIP_TEST_UNSET:-debug}
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, err := cfg.CompressionMethod()
	if err != nil || m != core.Zstd {
		t.Errorf("method = %v, %v; want zstd", m, err)
	}
	if cfg.Level != 9 {
		t.Errorf("level = %d; want 9", cfg.Level)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	// Fields the file leaves out keep their defaults
	if cfg.BufferSize != core.DefaultBufferSize {
		t.Errorf("buffer_size = %d; want default", cfg.BufferSize)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "method: [", "invalid YAML"},
		{"unknown method", "method: rar", "unknown compression method"},
		{"level too high", "level: 12", "out of range"},
		{"zero buffer", "buffer_size: 0", "buffer_size must be positive"},
		{"negative progress buffer", "progress_buffer: -1", "progress_buffer must be positive"},
		{"log format", "log:\n  format: xml", "unknown log format"},
		{"log level", "log:\n  level: loud", "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v; want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load error = %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("DIRZIP_A", "alice")
	t.Setenv("DIRZIP_EMPTY", "")

	tests := map[string]string{
		"${DIRZIP_A}":                "alice",
		"${DIRZIP_A:-fallback}":      "alice",
		"${DIRZIP_EMPTY:-fallback}":  "fallback",
		"${DIRZIP_UNSET_12345}":      "",
		"${DIRZIP_UNSET_12345:-x}/y": "x/y",
		"$DIRZIP_A":                  "$DIRZIP_A",
	}
	for in, want := range tests {
		if got := ExpandEnv(in); got != want {
			t.Errorf("ExpandEnv(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestLoadKeepsLevelZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, "method: deflate\nlevel: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Level != 0 {
		t.Errorf("level = %d; want 0 (no compression)", cfg.Level)
	}
	if Default().Level != core.DefaultLevel {
		t.Errorf("default level = %d; want %d", Default().Level, core.DefaultLevel)
	}
}
