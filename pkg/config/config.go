// Package config loads dirzip settings from a YAML file. Every value is
// optional; command-line flags override what the file sets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"dirzip/pkg/core"
	"dirzip/pkg/progress"
)

// Config is the contents of a dirzip.yaml file
type Config struct {
	Method         string    `yaml:"method"`
	Level          int       `yaml:"level"`
	BufferSize     int       `yaml:"buffer_size"`
	ProgressBuffer int       `yaml:"progress_buffer"`
	Log            LogConfig `yaml:"log"`
}

// LogConfig selects the log level and encoding
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used when no file is given
func Default() *Config {
	return &Config{
		Method:         core.Deflate.String(),
		Level:          core.DefaultLevel,
		BufferSize:     core.DefaultBufferSize,
		ProgressBuffer: progress.DefaultBuffer,
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load reads a YAML config file, expands environment variables and fills
// anything the file leaves out from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// CompressionMethod returns the parsed method
func (c *Config) CompressionMethod() (core.Method, error) {
	return core.ParseMethod(c.Method)
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.CompressionMethod(); err != nil {
		errs = append(errs, err)
	}
	if c.Level < flate.HuffmanOnly || c.Level > flate.BestCompression {
		errs = append(errs, fmt.Errorf("level %d out of range [%d, %d]", c.Level, flate.HuffmanOnly, flate.BestCompression))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize))
	}
	if c.ProgressBuffer <= 0 {
		errs = append(errs, fmt.Errorf("progress_buffer must be positive, got %d", c.ProgressBuffer))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
