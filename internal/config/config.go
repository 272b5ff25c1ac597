// Package config handles g3dtool configuration loading and management.
package config

import (
	"fmt"
	"time"

	"github.com/Faultbox/vim-g3d/internal/network"
	"github.com/Faultbox/vim-g3d/pkg/g3d"
)

// Config holds all tool settings.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Build     BuildConfig     `yaml:"build"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig holds HTTP range-request settings.
type TransportConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Verbose        bool          `yaml:"verbose"`
}

// BuildConfig holds settings for rebuilding a scene from split mesh files.
type BuildConfig struct {
	Section string `yaml:"section"` // all, opaque or transparent
	Merge   bool   `yaml:"merge"`
	// MeshURL is the prefix mesh files are resolved against. Empty means
	// next to the index file.
	MeshURL string `yaml:"mesh_url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	t := network.DefaultConfig()
	return &Config{
		Transport: TransportConfig{
			MaxConcurrency: t.MaxConcurrency,
			RetryDelay:     t.RetryDelay,
			RequestTimeout: t.RequestTimeout,
		},
		Build: BuildConfig{
			Section: g3d.SectionAll.String(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Network converts the transport section for network.NewRemoteBuffer.
func (c *Config) Network() network.Config {
	return network.Config{
		MaxConcurrency: c.Transport.MaxConcurrency,
		RetryDelay:     c.Transport.RetryDelay,
		RequestTimeout: c.Transport.RequestTimeout,
		Verbose:        c.Transport.Verbose,
	}
}

// Section parses the build section.
func (c *Config) Section() (g3d.Section, error) {
	return g3d.ParseSection(c.Build.Section)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Transport.MaxConcurrency < 1 {
		return fmt.Errorf("transport.max_concurrency must be at least 1, got %d", c.Transport.MaxConcurrency)
	}
	if c.Transport.RetryDelay < 0 {
		return fmt.Errorf("transport.retry_delay must not be negative, got %v", c.Transport.RetryDelay)
	}
	if _, err := c.Section(); err != nil {
		return fmt.Errorf("build.section: %w", err)
	}
	return nil
}
